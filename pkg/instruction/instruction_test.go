package instruction

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

func testPubkey(seed string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(seed)))
}

func TestBuildCreatePoll(t *testing.T) {
	p, err := poll.NewPoll("wallet", "owner", "AbC1234", "Colour?", []string{"Red", "Blue"}, 255)
	if err != nil {
		t.Fatalf("NewPoll failed: %v", err)
	}

	b := NewBuilder(testPubkey("program"), nil)
	env, err := b.BuildCreatePoll(p)
	if err != nil {
		t.Fatalf("BuildCreatePoll failed: %v", err)
	}

	if env.Action != ActionCreatePoll {
		t.Errorf("expected CreatePoll, got %s", env.Action)
	}
	if env.Space != uint64(len(env.Data)) {
		t.Errorf("space %d should equal data length %d", env.Space, len(env.Data))
	}
	if want := uint64(types.DefaultRent.MinimumBalance(env.Space)); env.Lamports != want {
		t.Errorf("expected lamports %d, got %d", want, env.Lamports)
	}

	decoded, err := poll.Decode(env.Data)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if len(decoded.Votes) != 2 || decoded.Votes[0] != 0 || decoded.Votes[1] != 0 {
		t.Errorf("expected votes [0 0], got %v", decoded.Votes)
	}
}

func TestBuildCreatePollFlatRent(t *testing.T) {
	p, _ := poll.NewPoll("w", "o", "i", "q", []string{"a"}, 1)

	b := NewBuilder(testPubkey("program"), FlatRent(1_234_567))
	env, err := b.BuildCreatePoll(p)
	if err != nil {
		t.Fatalf("BuildCreatePoll failed: %v", err)
	}
	if env.Lamports != 1_234_567 {
		t.Errorf("expected quoted rent, got %d", env.Lamports)
	}
}

func TestBuildCreatePollInvalidRecord(t *testing.T) {
	b := NewBuilder(testPubkey("program"), nil)
	_, err := b.BuildCreatePoll(poll.Poll{Options: []string{"a"}})
	if !errors.Is(err, poll.ErrVotesMismatch) {
		t.Errorf("expected ErrVotesMismatch, got %v", err)
	}
}

func TestBuildCastVote(t *testing.T) {
	b := NewBuilder(testPubkey("program"), nil)
	env, err := b.BuildCastVote("Blue")
	if err != nil {
		t.Fatalf("BuildCastVote failed: %v", err)
	}

	if env.Action != ActionCastVote || env.Lamports != 0 || env.Space != 0 {
		t.Errorf("unexpected envelope %+v", env)
	}
	v, err := poll.DecodeVote(env.Data)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if v.Option != "Blue" {
		t.Errorf("expected option Blue, got %q", v.Option)
	}
}

func TestEnvelopeLayout(t *testing.T) {
	env := Envelope{Action: ActionCastVote, Data: []byte{9, 8}, Lamports: 0x0102, Space: 3}

	got, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{
		1,
		2, 0, 0, 0, 9, 8,
		0x02, 0x01, 0, 0, 0, 0, 0, 0,
		3, 0, 0, 0, 0, 0, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected layout:\n got  %v\n want %v", got, want)
	}

	back, err := DecodeEnvelope(got)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if back.Action != env.Action || !bytes.Equal(back.Data, env.Data) || back.Lamports != env.Lamports || back.Space != env.Space {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	valid, _ := Envelope{Action: ActionCreatePoll, Data: []byte("abc"), Lamports: 5, Space: 3}.Encode()

	for n := 0; n < len(valid); n++ {
		if _, err := DecodeEnvelope(valid[:n]); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("prefix %d: expected ErrInvalidEnvelope, got %v", n, err)
		}
	}

	if _, err := DecodeEnvelope(append(valid, 0)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("trailing byte: expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestInstructionAccounts(t *testing.T) {
	programID := testPubkey("program")
	payer := testPubkey("payer")
	pollAccount := testPubkey("poll")

	b := NewBuilder(programID, nil)
	env, _ := b.BuildCastVote("Red")
	ix, err := b.Instruction(env, payer, pollAccount)
	if err != nil {
		t.Fatalf("Instruction failed: %v", err)
	}

	if ix.ProgramID != programID {
		t.Errorf("wrong program id %s", ix.ProgramID)
	}
	want := []types.AccountMeta{
		{Pubkey: payer, IsSigner: true, IsWritable: true},
		{Pubkey: pollAccount, IsWritable: true},
		{Pubkey: types.SystemProgramID},
	}
	if len(ix.Accounts) != len(want) {
		t.Fatalf("expected %d accounts, got %d", len(want), len(ix.Accounts))
	}
	for i := range want {
		if ix.Accounts[i] != want[i] {
			t.Errorf("account %d: got %+v, want %+v", i, ix.Accounts[i], want[i])
		}
	}

	back, err := DecodeEnvelope(ix.Data)
	if err != nil || back.Action != ActionCastVote {
		t.Errorf("instruction data does not hold the envelope: %+v, %v", back, err)
	}
}
