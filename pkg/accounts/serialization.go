package accounts

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Serialization format, all integers little-endian:
// - lamports:   u64
// - data_len:   u32
// - data:       data_len bytes
// - owner:      32 bytes
// - executable: u8 (0 or 1)
// - rent_epoch: u64

const (
	serializationHeaderSize = 8 + 4      // lamports + data_len
	serializationFooterSize = 32 + 1 + 8 // owner + executable + rent_epoch
	serializationMinSize    = serializationHeaderSize + serializationFooterSize
)

var (
	// ErrInvalidAccountData is returned when account data is malformed.
	ErrInvalidAccountData = errors.New("invalid account data")
)

// SerializeAccount serializes an account to binary format.
func SerializeAccount(account *types.Account) ([]byte, error) {
	if account == nil {
		return nil, errors.New("cannot serialize nil account")
	}

	buf := bytes.NewBuffer(make([]byte, 0, serializationMinSize+len(account.Data)))
	enc := bin.NewBinEncoder(buf)

	var executable uint8
	if account.Executable {
		executable = 1
	}

	for _, err := range []error{
		enc.WriteUint64(uint64(account.Lamports), bin.LE),
		enc.WriteUint32(uint32(len(account.Data)), bin.LE),
		enc.WriteBytes(account.Data, false),
		enc.WriteBytes(account.Owner[:], false),
		enc.WriteUint8(executable),
		enc.WriteUint64(account.RentEpoch, bin.LE),
	} {
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeAccount deserializes an account from binary format.
func DeserializeAccount(data []byte) (*types.Account, error) {
	if len(data) < serializationMinSize {
		return nil, fmt.Errorf("%w: data too short, need at least %d bytes, got %d",
			ErrInvalidAccountData, serializationMinSize, len(data))
	}

	dec := bin.NewBinDecoder(data)

	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: lamports: %v", ErrInvalidAccountData, err)
	}
	dataLen, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: data_len: %v", ErrInvalidAccountData, err)
	}

	if expected := serializationMinSize + int(dataLen); len(data) != expected {
		return nil, fmt.Errorf("%w: data length mismatch, expected %d bytes, got %d",
			ErrInvalidAccountData, expected, len(data))
	}

	account := &types.Account{Lamports: types.Lamports(lamports)}
	if dataLen > 0 {
		raw, err := dec.ReadBytes(int(dataLen))
		if err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidAccountData, err)
		}
		account.Data = append([]byte(nil), raw...)
	}

	owner, err := dec.ReadBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidAccountData, err)
	}
	copy(account.Owner[:], owner)

	executable, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: executable: %v", ErrInvalidAccountData, err)
	}
	account.Executable = executable != 0

	if account.RentEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: rent_epoch: %v", ErrInvalidAccountData, err)
	}

	return account, nil
}
