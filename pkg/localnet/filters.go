package localnet

import (
	"bytes"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
)

type memcmp struct {
	offset uint64
	prefix []byte
}

// filterSet is a decoded getProgramAccounts filter list. An account matches
// when it passes every filter.
type filterSet struct {
	memcmps  []memcmp
	dataSize *uint64
}

func compileFilters(filters []rpc.Filter) (filterSet, error) {
	var fs filterSet
	for i, f := range filters {
		switch {
		case f.Memcmp != nil && f.DataSize != nil:
			return filterSet{}, fmt.Errorf("filter %d: set either memcmp or dataSize", i)
		case f.Memcmp != nil:
			var prefix []byte
			var err error
			switch f.Memcmp.Encoding {
			case "", rpc.EncodingBase58:
				prefix, err = rpc.DecodeBase58(f.Memcmp.Bytes)
			case rpc.EncodingBase64:
				prefix, err = rpc.DecodeBase64(f.Memcmp.Bytes)
			default:
				return filterSet{}, fmt.Errorf("filter %d: unsupported memcmp encoding %q", i, f.Memcmp.Encoding)
			}
			if err != nil {
				return filterSet{}, fmt.Errorf("filter %d: decode memcmp bytes: %v", i, err)
			}
			fs.memcmps = append(fs.memcmps, memcmp{offset: f.Memcmp.Offset, prefix: prefix})
		case f.DataSize != nil:
			size := *f.DataSize
			fs.dataSize = &size
		default:
			return filterSet{}, fmt.Errorf("filter %d: empty filter", i)
		}
	}
	return fs, nil
}

func (fs filterSet) match(data []byte) bool {
	if fs.dataSize != nil && uint64(len(data)) != *fs.dataSize {
		return false
	}
	for _, m := range fs.memcmps {
		if m.offset > uint64(len(data)) || !bytes.HasPrefix(data[m.offset:], m.prefix) {
			return false
		}
	}
	return true
}
