package firehose

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ipld/go-car"

	"github.com/ipfs/go-cid"
)

// BlockArchive is a per-commit index from CID to raw block bytes, built from
// the CAR archive embedded in a commit body. It is read-only once built and
// is discarded with the message.
type BlockArchive struct {
	blocks map[cid.Cid][]byte
}

// ReadBlockArchive parses CAR bytes into a block index.
func ReadBlockArchive(data []byte) (*BlockArchive, error) {
	cr, err := car.NewCarReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read car header: %w", err)
	}

	blocks := make(map[cid.Cid][]byte)
	for {
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read car block: %w", err)
		}
		blocks[blk.Cid()] = blk.RawData()
	}

	return &BlockArchive{blocks: blocks}, nil
}

// Get returns the raw bytes for a CID, or nil when the block is not in the
// archive. A missing block skips one operation, never the whole commit.
func (a *BlockArchive) Get(c cid.Cid) []byte {
	if a == nil {
		return nil
	}
	return a.blocks[c]
}

// Len reports the number of indexed blocks.
func (a *BlockArchive) Len() int {
	if a == nil {
		return 0
	}
	return len(a.blocks)
}
