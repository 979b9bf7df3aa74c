package poh

import (
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Recorder extends the chain. Entries accumulate until Drain.
type Recorder struct {
	hash          types.Hash
	hashesPerTick uint64
	entries       []Entry
}

// NewRecorder starts a chain at start. Each tick runs hashesPerTick rounds.
func NewRecorder(start types.Hash, hashesPerTick uint64) *Recorder {
	if hashesPerTick == 0 {
		hashesPerTick = 1
	}
	return &Recorder{hash: start, hashesPerTick: hashesPerTick}
}

// Record appends a single-hash entry mixing in signatures.
func (r *Recorder) Record(signatures []types.Signature) Entry {
	return r.append(1, signatures)
}

// Tick appends a tick entry.
func (r *Recorder) Tick() Entry {
	return r.append(r.hashesPerTick, nil)
}

func (r *Recorder) append(numHashes uint64, signatures []types.Signature) Entry {
	r.hash = ComputeEntryHash(r.hash, numHashes, signatures)
	e := Entry{NumHashes: numHashes, Hash: r.hash, Signatures: signatures}
	r.entries = append(r.entries, e)
	return e
}

// Drain returns the entries recorded since the last call.
func (r *Recorder) Drain() []Entry {
	out := r.entries
	r.entries = nil
	return out
}

// Hash returns the head of the chain.
func (r *Recorder) Hash() types.Hash {
	return r.hash
}

// Verifier tracks and verifies the chain.
type Verifier struct {
	currentHash types.Hash
	tickCount   uint64
}

// NewVerifier creates a verifier starting from initialHash, typically the
// hash the producing recorder held before the first entry.
func NewVerifier(initialHash types.Hash) *Verifier {
	return &Verifier{currentHash: initialHash}
}

// VerifyEntry checks entry against the current state and advances past it.
func (v *Verifier) VerifyEntry(entry *Entry) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if entry.NumHashes == 0 {
		return ErrInvalidNumHashes
	}

	expected := ComputeEntryHash(v.currentHash, entry.NumHashes, entry.Signatures)
	if entry.Hash != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected, entry.Hash)
	}

	v.currentHash = entry.Hash
	if entry.IsTick() {
		v.tickCount++
	}
	return nil
}

// VerifyEntries verifies a sequence of entries. On failure the verifier
// stays at the last entry that verified.
func (v *Verifier) VerifyEntries(entries []Entry) error {
	for i := range entries {
		if err := v.VerifyEntry(&entries[i]); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// Reset moves the verifier to a new starting hash.
func (v *Verifier) Reset(hash types.Hash) {
	v.currentHash = hash
	v.tickCount = 0
}

// CurrentHash returns the hash of the last verified entry.
func (v *Verifier) CurrentHash() types.Hash {
	return v.currentHash
}

// TickCount returns the number of ticks verified since creation or Reset.
func (v *Verifier) TickCount() uint64 {
	return v.tickCount
}
