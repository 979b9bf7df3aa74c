package poll

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func samplePoll() Poll {
	return Poll{
		WalletPubkey: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Owner:        "alice@example.com",
		ID:           "AbC1234",
		Question:     "Favourite colour?",
		Options:      []string{"Red", "Blue", "Grün"},
		Votes:        []uint32{3, 0, 70000},
		SeedBump:     254,
		Timestamp:    "1700000000",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Poll{
		samplePoll(),
		{
			WalletPubkey: "w",
			Owner:        "o",
			ID:           "x",
			Question:     "q",
			Options:      []string{""},
			Votes:        []uint32{0},
			Timestamp:    PlaceholderTimestamp,
		},
	}

	for _, want := range cases {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, _ := Encode(samplePoll())
	b, _ := Encode(samplePoll())
	if !bytes.Equal(a, b) {
		t.Error("identical records should encode to identical bytes")
	}
}

func TestEncodeLayout(t *testing.T) {
	p := Poll{
		WalletPubkey: "W",
		Owner:        "Ow",
		ID:           "i",
		Question:     "Q?",
		Options:      []string{"a", "bc"},
		Votes:        []uint32{1, 256},
		SeedBump:     7,
		Timestamp:    "0",
	}

	want := []byte{
		1, 0, 0, 0, 'W',
		2, 0, 0, 0, 'O', 'w',
		1, 0, 0, 0, 'i',
		2, 0, 0, 0, 'Q', '?',
		2, 0, 0, 0, // options count
		1, 0, 0, 0, 'a',
		2, 0, 0, 0, 'b', 'c',
		2, 0, 0, 0, // votes count
		1, 0, 0, 0,
		0, 1, 0, 0,
		7,
		1, 0, 0, 0, '0',
	}

	got, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected layout:\n got  %v\n want %v", got, want)
	}
}

func TestDecodeEveryPrefixFails(t *testing.T) {
	data, err := Encode(samplePoll())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for n := 1; n < len(data); n++ {
		p, err := Decode(data[:n])
		if err == nil {
			t.Fatalf("prefix of length %d decoded successfully", n)
		}
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Fatalf("prefix %d: expected *DecodeError, got %T", n, err)
		}
		if !reflect.DeepEqual(p, Poll{}) {
			t.Fatalf("prefix %d: partial record returned: %+v", n, p)
		}
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	for _, in := range [][]byte{nil, {}} {
		_, err := Decode(in)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated cause, got %v", err)
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	data, _ := Encode(samplePoll())
	data = append(data, 0)

	_, err := Decode(data)
	if !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("expected ErrTrailingBytes, got %v", err)
	}
}

func TestDecodeVotesMismatch(t *testing.T) {
	p := samplePoll()
	data, _ := Encode(p)

	// Rewrite the record with a short tally, bypassing Encode's check.
	var buf bytes.Buffer
	head, _ := Encode(Poll{
		WalletPubkey: p.WalletPubkey,
		Owner:        p.Owner,
		ID:           p.ID,
		Question:     p.Question,
		Options:      p.Options,
		Votes:        []uint32{0, 0, 0},
	})
	// head ends with votes, bump, empty timestamp; cut back to the votes count.
	cut := len(head) - 4 - 1 - 4 - 3*4
	buf.Write(head[:cut])
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(9))
	buf.WriteByte(p.SeedBump)
	binary.Write(&buf, binary.LittleEndian, uint32(len(p.Timestamp)))
	buf.WriteString(p.Timestamp)

	if bytes.Equal(buf.Bytes(), data) {
		t.Fatal("fixture should differ from the valid encoding")
	}

	_, err := Decode(buf.Bytes())
	if !errors.Is(err, ErrVotesMismatch) {
		t.Errorf("expected ErrVotesMismatch, got %v", err)
	}
	if !errors.Is(err, ErrDecode) {
		t.Error("votes mismatch should be a DecodeError")
	}
}

func TestDecodeOversizedLengthPrefix(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff, 'a'}
	_, err := Decode(data)
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if derr.Field != "walletPubkey" {
		t.Errorf("expected failure in walletPubkey, got %q", derr.Field)
	}
}

func TestDecodeHugeOptionCount(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 4; i++ {
		binary.Write(&buf, binary.LittleEndian, uint32(1))
		buf.WriteByte('x')
	}
	binary.Write(&buf, binary.LittleEndian, uint32(1<<30))

	_, err := Decode(buf.Bytes())
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	data := []byte{2, 0, 0, 0, 0xc3, 0x28}
	_, err := DecodeVote(data)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	latin1 := "caf\xe9"

	cases := map[string]func() error{
		"wallet": func() error {
			p := samplePoll()
			p.WalletPubkey = "w\xff"
			_, err := Encode(p)
			return err
		},
		"question": func() error {
			p := samplePoll()
			p.Question = latin1
			_, err := Encode(p)
			return err
		},
		"option": func() error {
			p := samplePoll()
			p.Options[1] = latin1
			_, err := Encode(p)
			return err
		},
		"vote": func() error {
			_, err := EncodeVote(Vote{Option: latin1})
			return err
		},
		"search": func() error {
			_, err := EncodeSearchByOwner(SearchByOwner{Owner: latin1})
			return err
		},
	}
	for name, encode := range cases {
		if err := encode(); !errors.Is(err, ErrInvalidUTF8) {
			t.Errorf("%s: expected ErrInvalidUTF8, got %v", name, err)
		}
	}
}

func TestEmptySequencesDecodeToNil(t *testing.T) {
	for _, p := range []Poll{
		{WalletPubkey: "w", Owner: "o", ID: "x", Question: "q", Timestamp: PlaceholderTimestamp},
		{WalletPubkey: "w", Owner: "o", ID: "x", Question: "q", Options: []string{}, Votes: []uint32{}, Timestamp: PlaceholderTimestamp},
	} {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.Options != nil || got.Votes != nil {
			t.Errorf("expected nil sequences, got options %#v votes %#v", got.Options, got.Votes)
		}
	}

	want := Poll{WalletPubkey: "w", Owner: "o", ID: "x", Question: "q", Timestamp: PlaceholderTimestamp}
	data, _ := Encode(want)
	got, _ := Decode(data)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nil sequences should round trip:\n got  %+v\n want %+v", got, want)
	}
}

func TestEncodeRejectsVotesMismatch(t *testing.T) {
	p := samplePoll()
	p.Votes = p.Votes[:1]
	if _, err := Encode(p); !errors.Is(err, ErrVotesMismatch) {
		t.Errorf("expected ErrVotesMismatch, got %v", err)
	}
}

func TestVoteRoundTrip(t *testing.T) {
	data, err := EncodeVote(Vote{Option: "Blue"})
	if err != nil {
		t.Fatalf("EncodeVote failed: %v", err)
	}
	want := []byte{4, 0, 0, 0, 'B', 'l', 'u', 'e'}
	if !bytes.Equal(data, want) {
		t.Errorf("unexpected vote bytes %v", data)
	}

	v, err := DecodeVote(data)
	if err != nil {
		t.Fatalf("DecodeVote failed: %v", err)
	}
	if v.Option != "Blue" {
		t.Errorf("expected Blue, got %q", v.Option)
	}
}

func TestSearchByOwnerIsPrefixOfFirstField(t *testing.T) {
	// The search record carries owner, but a poll starts with walletPubkey, so
	// it only prefixes records whose wallet equals the searched value.
	prefix, _ := EncodeSearchByOwner(SearchByOwner{Owner: "alice"})

	p := samplePoll()
	p.WalletPubkey = "alice"
	p.Owner = "bob"
	rec, _ := Encode(p)
	if !bytes.HasPrefix(rec, prefix) {
		t.Error("encoded owner should prefix a record whose wallet equals the searched value")
	}

	p.WalletPubkey = "bob"
	p.Owner = "alice"
	rec, _ = Encode(p)
	if bytes.HasPrefix(rec, prefix) {
		t.Error("encoded owner should not prefix a record whose owner, not wallet, equals the searched value")
	}

	s, err := DecodeSearchByOwner(prefix)
	if err != nil || s.Owner != "alice" {
		t.Errorf("DecodeSearchByOwner = %+v, %v", s, err)
	}
}

func TestNewPollScenario(t *testing.T) {
	p, err := NewPoll("wallet", "owner", "AbC1234", "Pick one", []string{"Red", "Blue"}, 253)
	if err != nil {
		t.Fatalf("NewPoll failed: %v", err)
	}

	data, _ := Encode(p)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got.Votes, []uint32{0, 0}) {
		t.Errorf("expected votes [0 0], got %v", got.Votes)
	}
	if got.Timestamp != PlaceholderTimestamp {
		t.Errorf("expected placeholder timestamp, got %q", got.Timestamp)
	}
	if got.ID != "AbC1234" || got.SeedBump != 253 {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestNewPollValidation(t *testing.T) {
	tests := []struct {
		name     string
		wallet   string
		owner    string
		id       string
		question string
		options  []string
		want     error
	}{
		{"missing wallet", "", "o", "i", "q", []string{"a"}, ErrMissingField},
		{"missing owner", "w", "", "i", "q", []string{"a"}, ErrMissingField},
		{"missing id", "w", "o", "", "q", []string{"a"}, ErrMissingField},
		{"missing question", "w", "o", "i", "", []string{"a"}, ErrMissingField},
		{"no options", "w", "o", "i", "q", nil, ErrNoOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoll(tt.wallet, tt.owner, tt.id, tt.question, tt.options, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWithVoteDoesNotMutate(t *testing.T) {
	p := samplePoll()
	before := append([]uint32(nil), p.Votes...)

	next, err := p.WithVote("Blue")
	if err != nil {
		t.Fatalf("WithVote failed: %v", err)
	}
	if next.Votes[1] != 1 {
		t.Errorf("expected Blue count 1, got %d", next.Votes[1])
	}
	if !reflect.DeepEqual(p.Votes, before) {
		t.Error("original poll was modified")
	}
	if next.TotalVotes() != p.TotalVotes()+1 {
		t.Errorf("total should grow by one: %d -> %d", p.TotalVotes(), next.TotalVotes())
	}

	if _, err := p.WithVote("blue"); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("option matching must be exact, got %v", err)
	}
}

func TestGenerateID(t *testing.T) {
	id, err := GenerateID(DefaultIDLength)
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	if len(id) != DefaultIDLength {
		t.Errorf("expected length %d, got %d", DefaultIDLength, len(id))
	}
	for _, c := range id {
		if !strings.ContainsRune(idAlphabet, c) {
			t.Errorf("unexpected character %q in %q", c, id)
		}
	}

	if _, err := GenerateID(0); err == nil {
		t.Error("zero length should be rejected")
	}
}
