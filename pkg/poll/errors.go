package poll

import (
	"errors"
	"fmt"
)

// Error types for poll records.
var (
	// ErrDecode is matched by every *DecodeError via errors.Is.
	ErrDecode = errors.New("poll: decode failed")

	// ErrTruncated indicates the buffer ended before a declared field or length.
	ErrTruncated = errors.New("poll: buffer truncated")

	// ErrTrailingBytes indicates bytes remained after the last field.
	ErrTrailingBytes = errors.New("poll: trailing bytes after record")

	// ErrInvalidUTF8 indicates a string field is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("poll: string is not valid utf-8")

	// ErrVotesMismatch indicates the tally does not have one count per option.
	ErrVotesMismatch = errors.New("poll: votes length does not match options length")

	// ErrMissingField indicates a required poll property is empty.
	ErrMissingField = errors.New("poll: required field is empty")

	// ErrNoOptions indicates a poll was created without options.
	ErrNoOptions = errors.New("poll: no options provided")

	// ErrInvalidOption indicates a vote names an option the poll does not offer.
	ErrInvalidOption = errors.New("poll: invalid input option")
)

// DecodeError reports malformed bytes for one record. Callers scanning many
// accounts drop the record and continue.
type DecodeError struct {
	Record string // "poll", "vote" or "search"
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("poll: decode %s field %q at offset %d: %v", e.Record, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
