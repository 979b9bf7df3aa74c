// Package poll defines the poll account record and its binary codec.
//
// Records use the borsh layout shared with the on-chain program: strings are a
// u32 little-endian byte length followed by UTF-8, sequences are a u32 count
// followed by their elements, and integers are fixed width little-endian.
package poll

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// PlaceholderTimestamp is written by clients at creation. The program replaces
// it with the ledger clock.
const PlaceholderTimestamp = "0000000000"

// DefaultIDLength is the length of generated poll ids.
const DefaultIDLength = 7

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Poll is the record stored in each poll account. Field order is the wire order.
type Poll struct {
	WalletPubkey string
	Owner        string
	ID           string
	Question     string
	Options      []string
	Votes        []uint32
	SeedBump     uint8
	Timestamp    string
}

// Vote is the payload of a cast-vote instruction.
type Vote struct {
	Option string
}

// SearchByOwner is the record encoded to build the owner prefix filter.
type SearchByOwner struct {
	Owner string
}

// NewPoll builds a fresh poll with a zeroed tally and the placeholder timestamp.
func NewPoll(wallet, owner, id, question string, options []string, bump uint8) (Poll, error) {
	p := Poll{
		WalletPubkey: wallet,
		Owner:        owner,
		ID:           id,
		Question:     question,
		Options:      append([]string(nil), options...),
		Votes:        make([]uint32, len(options)),
		SeedBump:     bump,
		Timestamp:    PlaceholderTimestamp,
	}
	if err := p.Validate(); err != nil {
		return Poll{}, err
	}
	return p, nil
}

// Validate checks the properties the program requires of a new poll.
func (p Poll) Validate() error {
	switch {
	case p.WalletPubkey == "":
		return fmt.Errorf("%w: wallet public key", ErrMissingField)
	case p.Owner == "":
		return fmt.Errorf("%w: owner", ErrMissingField)
	case p.ID == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case p.Question == "":
		return fmt.Errorf("%w: question", ErrMissingField)
	case len(p.Options) == 0:
		return ErrNoOptions
	case len(p.Votes) != len(p.Options):
		return ErrVotesMismatch
	}
	return nil
}

// OptionIndex returns the position of option, or -1. Matching is exact string
// identity.
func (p Poll) OptionIndex(option string) int {
	for i, o := range p.Options {
		if o == option {
			return i
		}
	}
	return -1
}

// HasOption reports whether option is one of the poll's options.
func (p Poll) HasOption(option string) bool {
	return p.OptionIndex(option) >= 0
}

// TotalVotes sums the tally.
func (p Poll) TotalVotes() uint64 {
	var total uint64
	for _, v := range p.Votes {
		total += uint64(v)
	}
	return total
}

// WithVote returns a copy of p with option's count incremented. p is not
// modified.
func (p Poll) WithVote(option string) (Poll, error) {
	idx := p.OptionIndex(option)
	if idx < 0 || idx >= len(p.Votes) {
		return Poll{}, fmt.Errorf("%w: %q", ErrInvalidOption, option)
	}
	out := p
	out.Options = append([]string(nil), p.Options...)
	out.Votes = append([]uint32(nil), p.Votes...)
	out.Votes[idx]++
	return out, nil
}

// GenerateID returns a random alphanumeric id of length n.
func GenerateID(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("poll: id length must be positive, got %d", n)
	}
	max := big.NewInt(int64(len(idAlphabet)))
	out := make([]byte, n)
	for i := range out {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("poll: generate id: %w", err)
		}
		out[i] = idAlphabet[k.Int64()]
	}
	return string(out), nil
}
