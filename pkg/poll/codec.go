package poll

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
)

// Encode serializes p in wire order. Identical records always produce
// identical bytes.
func Encode(p Poll) ([]byte, error) {
	if len(p.Votes) != len(p.Options) {
		return nil, ErrVotesMismatch
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	for _, s := range []string{p.WalletPubkey, p.Owner, p.ID, p.Question} {
		if err := writeString(enc, s); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint32(uint32(len(p.Options)), bin.LE); err != nil {
		return nil, err
	}
	for _, o := range p.Options {
		if err := writeString(enc, o); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint32(uint32(len(p.Votes)), bin.LE); err != nil {
		return nil, err
	}
	for _, v := range p.Votes {
		if err := enc.WriteUint32(v, bin.LE); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint8(p.SeedBump); err != nil {
		return nil, err
	}
	if err := writeString(enc, p.Timestamp); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a poll record. It fails with *DecodeError on truncated input,
// inconsistent length prefixes, a tally that does not match the options, or
// trailing bytes. A failed decode returns the zero Poll.
func Decode(b []byte) (Poll, error) {
	r := newReader("poll", b)

	var p Poll
	p.WalletPubkey = r.string("walletPubkey")
	p.Owner = r.string("owner")
	p.ID = r.string("id")
	p.Question = r.string("question")
	p.Options = r.strings("options")
	p.Votes = r.uint32s("votes")
	p.SeedBump = r.uint8("seed_bump")
	p.Timestamp = r.string("timestamp")
	r.end()

	if r.err != nil {
		return Poll{}, r.err
	}
	if len(p.Votes) != len(p.Options) {
		return Poll{}, &DecodeError{Record: "poll", Field: "votes", Offset: len(b), Err: ErrVotesMismatch}
	}
	return p, nil
}

// EncodeVote serializes a cast-vote payload.
func EncodeVote(v Vote) ([]byte, error) {
	return encodeSingle(v.Option)
}

// DecodeVote parses a cast-vote payload.
func DecodeVote(b []byte) (Vote, error) {
	r := newReader("vote", b)
	v := Vote{Option: r.string("option")}
	r.end()
	if r.err != nil {
		return Vote{}, r.err
	}
	return v, nil
}

// EncodeSearchByOwner serializes an owner search record.
func EncodeSearchByOwner(s SearchByOwner) ([]byte, error) {
	return encodeSingle(s.Owner)
}

// DecodeSearchByOwner parses an owner search record.
func DecodeSearchByOwner(b []byte) (SearchByOwner, error) {
	r := newReader("search", b)
	s := SearchByOwner{Owner: r.string("owner")}
	r.end()
	if r.err != nil {
		return SearchByOwner{}, r.err
	}
	return s, nil
}

func encodeSingle(s string) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeString(bin.NewBinEncoder(buf), s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeString fails on strings the decoder would reject.
func writeString(enc *bin.Encoder, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidUTF8, s)
	}
	if err := enc.WriteUint32(uint32(len(s)), bin.LE); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

// reader wraps a bin.Decoder and records the first failure. Once err is set
// every further read is a no-op returning the zero value.
type reader struct {
	record string
	size   int
	dec    *bin.Decoder
	err    error
}

func newReader(record string, b []byte) *reader {
	return &reader{record: record, size: len(b), dec: bin.NewBinDecoder(b)}
}

func (r *reader) offset() int {
	return r.size - r.dec.Remaining()
}

func (r *reader) fail(field string, err error) {
	if r.err == nil {
		r.err = &DecodeError{Record: r.record, Field: field, Offset: r.offset(), Err: err}
	}
}

// need fails the read unless n more bytes are available.
func (r *reader) need(field string, n uint64) bool {
	if r.err != nil {
		return false
	}
	if uint64(r.dec.Remaining()) < n {
		r.fail(field, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.dec.Remaining()))
		return false
	}
	return true
}

func (r *reader) u32(field string) uint32 {
	if !r.need(field, 4) {
		return 0
	}
	v, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		r.fail(field, err)
		return 0
	}
	return v
}

func (r *reader) uint8(field string) uint8 {
	if !r.need(field, 1) {
		return 0
	}
	v, err := r.dec.ReadByte()
	if err != nil {
		r.fail(field, err)
		return 0
	}
	return v
}

func (r *reader) string(field string) string {
	n := r.u32(field)
	if !r.need(field, uint64(n)) {
		return ""
	}
	raw, err := r.dec.ReadBytes(int(n))
	if err != nil {
		r.fail(field, err)
		return ""
	}
	if !utf8.Valid(raw) {
		r.fail(field, ErrInvalidUTF8)
		return ""
	}
	return string(raw)
}

// strings and uint32s return nil for an empty sequence, so nil and empty
// slices encode alike and decode to nil.
func (r *reader) strings(field string) []string {
	n := r.u32(field)
	// Each element carries at least its 4-byte length prefix.
	if n == 0 || !r.need(field, uint64(n)*4) {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s := r.string(fmt.Sprintf("%s[%d]", field, i))
		if r.err != nil {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (r *reader) uint32s(field string) []uint32 {
	n := r.u32(field)
	if n == 0 || !r.need(field, uint64(n)*4) {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.u32(field)
	}
	if r.err != nil {
		return nil
	}
	return out
}

func (r *reader) end() {
	if r.err == nil && r.dec.Remaining() > 0 {
		r.fail("", fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.dec.Remaining()))
	}
}
