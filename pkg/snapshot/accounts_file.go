package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	bin "github.com/gagliardetto/binary"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Accounts file format, one record per account:
// - pubkey:     32 bytes
// - record_len: u32, little-endian
// - account:    record_len bytes in the accounts serialization format

const (
	recordHeaderSize = 32 + 4

	// maxRecordSize bounds a single record.
	maxRecordSize = 16 << 20
)

// ErrInvalidAccountsFile is returned when an accounts file is malformed.
var ErrInvalidAccountsFile = errors.New("invalid accounts file")

func encodeAccountsFile(accts []types.KeyedAccount) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	for _, ka := range accts {
		data, err := accounts.SerializeAccount(ka.Account)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ka.Pubkey, err)
		}
		for _, err := range []error{
			enc.WriteBytes(ka.Pubkey[:], false),
			enc.WriteUint32(uint32(len(data)), bin.LE),
			enc.WriteBytes(data, false),
		} {
			if err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// AccountsFileReader reads records from an accounts file.
type AccountsFileReader struct {
	r      io.Reader
	offset int64
}

// NewAccountsFileReader creates a reader over r.
func NewAccountsFileReader(r io.Reader) *AccountsFileReader {
	return &AccountsFileReader{r: r}
}

// ReadNext returns the next account, or io.EOF after the last one.
func (r *AccountsFileReader) ReadNext() (types.KeyedAccount, error) {
	var header [recordHeaderSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF {
		return types.KeyedAccount{}, io.EOF
	}
	if err != nil {
		return types.KeyedAccount{}, fmt.Errorf("%w: truncated header at offset %d (%d bytes)", ErrInvalidAccountsFile, r.offset, n)
	}

	size := binary.LittleEndian.Uint32(header[32:])
	if size > maxRecordSize {
		return types.KeyedAccount{}, fmt.Errorf("%w: record of %d bytes at offset %d", ErrInvalidAccountsFile, size, r.offset)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return types.KeyedAccount{}, fmt.Errorf("%w: truncated record at offset %d", ErrInvalidAccountsFile, r.offset)
	}

	acc, err := accounts.DeserializeAccount(data)
	if err != nil {
		return types.KeyedAccount{}, fmt.Errorf("record at offset %d: %w", r.offset, err)
	}
	r.offset += int64(recordHeaderSize) + int64(size)

	var ka types.KeyedAccount
	copy(ka.Pubkey[:], header[:32])
	ka.Account = acc
	return ka, nil
}

// Offset returns the number of bytes consumed so far.
func (r *AccountsFileReader) Offset() int64 {
	return r.offset
}

// isAccountsFile reports whether a tar entry holds account records.
func isAccountsFile(name string) bool {
	if !strings.HasPrefix(name, accountsDir) {
		return false
	}
	base := strings.TrimPrefix(name, accountsDir)
	return len(base) > 0 && base[0] >= '0' && base[0] <= '9' && strings.Contains(base, ".")
}
