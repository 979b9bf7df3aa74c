// Package instruction builds the instruction envelopes the poll program accepts.
//
// Envelope wire layout: action u8, data (u32 length + bytes), lamports u64,
// space u64, all little-endian. Building an envelope performs no I/O.
package instruction

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Action selects the program entrypoint.
type Action uint8

const (
	ActionCreatePoll Action = 0
	ActionCastVote   Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionCreatePoll:
		return "CreatePoll"
	case ActionCastVote:
		return "CastVote"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

var (
	// ErrInvalidEnvelope is returned when envelope bytes cannot be parsed.
	ErrInvalidEnvelope = errors.New("instruction: invalid envelope data")
)

// Envelope is the instruction data sent to the poll program.
type Envelope struct {
	Action   Action
	Data     []byte
	Lamports uint64
	Space    uint64
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	if err := enc.WriteUint8(uint8(e.Action)); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(e.Data)), bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(e.Data, false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(e.Lamports, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(e.Space, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope parses envelope bytes. Trailing bytes are rejected.
func DecodeEnvelope(b []byte) (Envelope, error) {
	dec := bin.NewBinDecoder(b)

	if dec.Remaining() < 1+4 {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(b))
	}
	action, err := dec.ReadByte()
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: action: %v", ErrInvalidEnvelope, err)
	}
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: data length: %v", ErrInvalidEnvelope, err)
	}
	if uint64(dec.Remaining()) < uint64(n)+16 {
		return Envelope{}, fmt.Errorf("%w: data length %d exceeds buffer", ErrInvalidEnvelope, n)
	}
	data, err := dec.ReadBytes(int(n))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: data: %v", ErrInvalidEnvelope, err)
	}
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: lamports: %v", ErrInvalidEnvelope, err)
	}
	space, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: space: %v", ErrInvalidEnvelope, err)
	}
	if dec.Remaining() != 0 {
		return Envelope{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidEnvelope, dec.Remaining())
	}

	return Envelope{
		Action:   Action(action),
		Data:     append([]byte(nil), data...),
		Lamports: lamports,
		Space:    space,
	}, nil
}

// RentFunc returns the rent-exempt minimum for an account of dataLen bytes.
type RentFunc func(dataLen uint64) types.Lamports

// FlatRent returns a RentFunc that always answers lamports. Use it with an
// amount quoted by the ledger for the exact data length.
func FlatRent(lamports types.Lamports) RentFunc {
	return func(uint64) types.Lamports { return lamports }
}

// Builder produces envelopes and instructions for one program.
type Builder struct {
	programID types.Pubkey
	rent      RentFunc
}

// NewBuilder creates a builder for programID. A nil rent uses the default
// offline rent model.
func NewBuilder(programID types.Pubkey, rent RentFunc) *Builder {
	if rent == nil {
		rent = types.DefaultRent.MinimumBalance
	}
	return &Builder{programID: programID, rent: rent}
}

// ProgramID returns the program the builder targets.
func (b *Builder) ProgramID() types.Pubkey {
	return b.programID
}

// WithRent returns a copy of b using rent.
func (b *Builder) WithRent(rent RentFunc) *Builder {
	return NewBuilder(b.programID, rent)
}

// BuildCreatePoll encodes p and funds an account of exactly that size.
func (b *Builder) BuildCreatePoll(p poll.Poll) (Envelope, error) {
	data, err := poll.Encode(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode poll: %w", err)
	}
	space := uint64(len(data))
	return Envelope{
		Action:   ActionCreatePoll,
		Data:     data,
		Lamports: uint64(b.rent(space)),
		Space:    space,
	}, nil
}

// BuildCastVote encodes a vote for option.
func (b *Builder) BuildCastVote(option string) (Envelope, error) {
	data, err := poll.EncodeVote(poll.Vote{Option: option})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode vote: %w", err)
	}
	return Envelope{Action: ActionCastVote, Data: data}, nil
}

// Instruction wraps env with the accounts the program reads: the payer
// (signer, writable), the poll account (writable) and the system program.
func (b *Builder) Instruction(env Envelope, payer, pollAccount types.Pubkey) (types.Instruction, error) {
	data, err := env.Encode()
	if err != nil {
		return types.Instruction{}, fmt.Errorf("encode envelope: %w", err)
	}
	return types.Instruction{
		ProgramID: b.programID,
		Accounts: []types.AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: pollAccount, IsSigner: false, IsWritable: true},
			{Pubkey: types.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}, nil
}
