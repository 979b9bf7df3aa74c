package rpc

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// Encoding types supported for account data
const (
	EncodingBase58     = "base58"
	EncodingBase64     = "base64"
	EncodingBase64Zstd = "base64+zstd"
)

// MaxAccountDataSize bounds decompressed account data.
const MaxAccountDataSize = 10 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodecs returns process-wide codecs. EncodeAll and DecodeAll are safe for
// concurrent use.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxAccountDataSize),
		)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// EncodeBase58 encodes bytes to base58 string.
func EncodeBase58(data []byte) string {
	return base58.Encode(data)
}

// DecodeBase58 decodes a base58 string to bytes.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}

// EncodeBase64 encodes bytes to base64 string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a base64 string to bytes.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeAccountData encodes account data in the specified encoding.
// Returns the [data, encoding] pair used on the wire.
func EncodeAccountData(data []byte, encoding string) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		// Base58 is only valid for small amounts of data
		if len(data) > 128 {
			return nil, fmt.Errorf("data too large for base58 encoding, use base64")
		}
		return []string{EncodeBase58(data), EncodingBase58}, nil

	case EncodingBase64, "":
		return []string{EncodeBase64(data), EncodingBase64}, nil

	case EncodingBase64Zstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		return []string{EncodeBase64(enc.EncodeAll(data, nil)), EncodingBase64Zstd}, nil

	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return DecodeBase58(encoded)

	case EncodingBase64, "":
		return DecodeBase64(encoded)

	case EncodingBase64Zstd:
		compressed, err := DecodeBase64(encoded)
		if err != nil {
			return nil, err
		}
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		data, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

// ValidateEncoding validates that an encoding string is supported.
func ValidateEncoding(encoding string) error {
	switch encoding {
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd, "":
		return nil
	default:
		return fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
