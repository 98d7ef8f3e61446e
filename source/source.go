// Package source provides the data sources an upload reads from: a byte
// slice held in memory or a file on disk. A source splits its content into
// fixed-size SHA-256 addressed blocks and serves random-access block reads
// for the request server.
package source

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"stpush/bep"
)

var ErrHashMismatch = errors.New("block hash mismatch")

// DataSource is a restartable, random-access view of the bytes being
// uploaded. Size, Blocks, Hashes and ContentHash are materialized lazily, at
// most once, and are stable afterwards. Block may be called concurrently;
// every call opens its own reader.
type DataSource interface {
	// Open returns a fresh reader positioned at offset 0.
	Open() (io.ReadCloser, error)

	// Size is the total byte count of the source.
	Size() (int64, error)

	// Blocks is the ordered, contiguous block list of the source.
	Blocks() ([]bep.BlockInfo, error)

	// Hashes is the set of hex-encoded block hashes.
	Hashes() (mapset.Set[string], error)

	// ContentHash digests the ordered block-hash list into the equality key
	// compared against remote index echoes.
	ContentHash() (string, error)

	// Block reads size bytes at offset and verifies them against the
	// expected hex hash. A mismatch means the source was mutated after the
	// block list was computed and is returned as ErrHashMismatch.
	Block(offset int64, size int32, hash string) ([]byte, error)
}

// common carries the lazily-materialized state shared by all source kinds.
type common struct {
	open func() (io.ReadCloser, error)

	once        sync.Once
	scanErr     error
	size        int64
	blocks      []bep.BlockInfo
	hashes      mapset.Set[string]
	contentHash string

	// set when the size is known without reading the stream; memoized so a
	// materialized size never changes under the caller
	statSize func() (int64, bool)
	statOnce sync.Once
	statN    int64
	statOK   bool
}

// scan reads the stream once, splitting it into BlockSize chunks and hashing
// each. A zero-length source yields an empty block list.
func (c *common) scan() {
	c.once.Do(func() {
		in, err := c.open()
		if err != nil {
			c.scanErr = err
			return
		}
		defer in.Close()

		var blocks []bep.BlockInfo
		var offset int64
		buf := make([]byte, bep.BlockSize)
		for {
			n, err := io.ReadFull(in, buf)
			if n > 0 {
				sum := sha256.Sum256(buf[:n])
				hash := make([]byte, len(sum))
				copy(hash, sum[:])
				blocks = append(blocks, bep.BlockInfo{
					Offset: offset,
					Size:   int32(n),
					Hash:   hash,
				})
				offset += int64(n)
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				c.scanErr = err
				return
			}
		}

		hashes := mapset.NewSet[string]()
		for _, b := range blocks {
			hashes.Add(bep.HashHex(b.Hash))
		}

		c.size = offset
		c.blocks = blocks
		c.hashes = hashes
		c.contentHash = bep.HashBlocks(blocks)
		log.Debugf("source: scanned %d bytes into %d blocks", c.size, len(c.blocks))
	})
}

func (c *common) Open() (io.ReadCloser, error) {
	return c.open()
}

func (c *common) Size() (int64, error) {
	if c.statSize != nil {
		c.statOnce.Do(func() {
			c.statN, c.statOK = c.statSize()
		})
		if c.statOK {
			return c.statN, nil
		}
	}
	c.scan()
	return c.size, c.scanErr
}

func (c *common) Blocks() ([]bep.BlockInfo, error) {
	c.scan()
	return c.blocks, c.scanErr
}

func (c *common) Hashes() (mapset.Set[string], error) {
	c.scan()
	return c.hashes, c.scanErr
}

func (c *common) ContentHash() (string, error) {
	c.scan()
	return c.contentHash, c.scanErr
}

func (c *common) Block(offset int64, size int32, hash string) ([]byte, error) {
	in, err := c.open()
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if err := skipFully(in, offset); err != nil {
		return nil, fmt.Errorf("seeking to offset %d: %w", offset, err)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", size, offset, err)
	}

	sum := sha256.Sum256(buf)
	if got := bep.HashHex(sum[:]); got != hash {
		log.Errorf("source: block %d+%d hashes to %s, expected %s", offset, size, got, hash)
		return nil, fmt.Errorf("%w: block %d+%d", ErrHashMismatch, offset, size)
	}
	return buf, nil
}

func skipFully(in io.Reader, n int64) error {
	skipped, err := io.CopyN(io.Discard, in, n)
	if err != nil {
		return err
	}
	if skipped != n {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Bytes is an in-memory source.
type Bytes struct {
	common
}

func NewBytes(data []byte) *Bytes {
	s := &Bytes{}
	s.open = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return s
}

// File is a source backed by a file on disk. The size is taken from file
// metadata without reading; the block list requires one full read.
type File struct {
	common
	path string
}

func NewFile(path string) *File {
	s := &File{path: path}
	s.open = func() (io.ReadCloser, error) {
		return os.Open(path)
	}
	s.statSize = func() (int64, bool) {
		fi, err := os.Stat(path)
		if err != nil {
			return 0, false
		}
		return fi.Size(), true
	}
	return s
}

// Path returns the backing file path.
func (s *File) Path() string {
	return s.path
}
