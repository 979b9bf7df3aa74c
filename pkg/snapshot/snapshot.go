// Package snapshot saves and restores the account state of a local ledger.
// An archive is a zstd-compressed tar holding a JSON manifest and one
// accounts file.
package snapshot

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Version is the archive format version written by Write.
const Version = 1

const (
	manifestName = "manifest"
	accountsDir  = "accounts/"
)

var (
	// ErrInvalidManifest is returned when the manifest is malformed.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrInvalidArchive is returned when the archive is malformed.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrHashMismatch is returned when a hash verification fails.
	ErrHashMismatch = errors.New("hash mismatch")
)

// Manifest describes the ledger state captured in an archive.
type Manifest struct {
	Version       uint32       `json:"version"`
	Slot          uint64       `json:"slot"`
	Blockhash     types.Hash   `json:"-"`
	ProgramID     types.Pubkey `json:"program_id"`
	AccountsCount uint64       `json:"accounts_count"`
	LamportsTotal uint64       `json:"lamports_total"`
	AccountsHash  types.Hash   `json:"-"`
}

// MarshalJSON renders hashes as base58.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.Marshal(&struct {
		Blockhash    string `json:"blockhash"`
		AccountsHash string `json:"accounts_hash"`
		*Alias
	}{
		Blockhash:    m.Blockhash.String(),
		AccountsHash: m.AccountsHash.String(),
		Alias:        (*Alias)(m),
	})
}

// UnmarshalJSON parses base58 hashes.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type Alias Manifest
	aux := &struct {
		Blockhash    string `json:"blockhash"`
		AccountsHash string `json:"accounts_hash"`
		*Alias
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	var err error
	if m.Blockhash, err = types.HashFromBase58(aux.Blockhash); err != nil {
		return fmt.Errorf("invalid blockhash: %w", err)
	}
	if m.AccountsHash, err = types.HashFromBase58(aux.AccountsHash); err != nil {
		return fmt.Errorf("invalid accounts hash: %w", err)
	}
	return nil
}

// Write archives accts to w. The manifest's count, lamport total and
// accounts hash are filled in from accts.
func Write(w io.Writer, m Manifest, accts []types.KeyedAccount) (*Manifest, error) {
	m.Version = Version
	m.AccountsCount = uint64(len(accts))
	m.LamportsTotal = 0
	for _, ka := range accts {
		m.LamportsTotal += uint64(ka.Account.Lamports)
	}
	m.AccountsHash = accounts.ComputeAccountsDeltaHash(accts)

	manifest, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	records, err := encodeAccountsFile(accts)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	now := time.Now()
	for _, f := range []struct {
		name string
		data []byte
	}{
		{manifestName, manifest},
		{fmt.Sprintf("%s%d.0", accountsDir, m.Slot), records},
	} {
		hdr := &tar.Header{Name: f.name, Mode: 0644, Size: int64(len(f.data)), ModTime: now, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := tw.Write(f.data); err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to close tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush zstd: %w", err)
	}
	return &m, nil
}

// WriteFile archives accts to path, replacing it atomically.
func WriteFile(path string, m Manifest, accts []types.KeyedAccount) (*Manifest, error) {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	out, err := Write(file, m, accts)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	return out, nil
}

// Archive provides reading access to a snapshot archive (tar.zst).
type Archive struct {
	path      string
	file      *os.File
	decoder   *zstd.Decoder
	tarReader *tar.Reader
}

// OpenArchive opens a snapshot archive for reading.
func OpenArchive(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// Single-threaded decoding keeps reads in the caller's goroutine, so Reset
	// can seek the file.
	decoder, err := zstd.NewReader(file, zstd.WithDecoderConcurrency(1))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Archive{
		path:      path,
		file:      file,
		decoder:   decoder,
		tarReader: tar.NewReader(decoder),
	}, nil
}

// Path returns the archive path.
func (a *Archive) Path() string {
	return a.path
}

// ReadManifest reads and parses the manifest. It rewinds the archive first.
func (a *Archive) ReadManifest() (*Manifest, error) {
	if err := a.Reset(); err != nil {
		return nil, err
	}

	for {
		header, err := a.tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if header.Name != manifestName {
			continue
		}

		data, err := io.ReadAll(a.tarReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		m := &Manifest{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		if m.Version != Version {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidManifest, m.Version)
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: manifest not found in archive", ErrInvalidArchive)
}

// Accounts streams every account in the archive to fn. It rewinds the
// archive first.
func (a *Archive) Accounts(fn func(types.KeyedAccount) error) error {
	if err := a.Reset(); err != nil {
		return err
	}

	for {
		header, err := a.tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}
		if !isAccountsFile(header.Name) {
			continue
		}

		r := NewAccountsFileReader(a.tarReader)
		for {
			ka, err := r.ReadNext()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("%s: %w", header.Name, err)
			}
			if err := fn(ka); err != nil {
				return err
			}
		}
	}
}

// Reset rewinds the archive reader to the beginning.
func (a *Archive) Reset() error {
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	if err := a.decoder.Reset(a.file); err != nil {
		return fmt.Errorf("failed to reset zstd decoder: %w", err)
	}
	a.tarReader = tar.NewReader(a.decoder)
	return nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	if a.decoder != nil {
		a.decoder.Close()
	}
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
