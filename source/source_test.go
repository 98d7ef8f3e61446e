package source

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stpush/bep"
)

func TestEmptySource(t *testing.T) {
	src := NewBytes(nil)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	blocks, err := src.Blocks()
	require.NoError(t, err)
	assert.Empty(t, blocks)

	hashes, err := src.Hashes()
	require.NoError(t, err)
	assert.Equal(t, 0, hashes.Cardinality())
}

func TestSingleBlock(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, 1024)
	src := NewBytes(data)

	blocks, err := src.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	want := sha256.Sum256(data)
	assert.Equal(t, int64(0), blocks[0].Offset)
	assert.Equal(t, int32(1024), blocks[0].Size)
	assert.Equal(t, want[:], blocks[0].Hash)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)

	got, err := src.Block(0, 1024, bep.HashHex(want[:]))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMultiBlockSplitting(t *testing.T) {
	data := make([]byte, 300000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	src := NewBytes(data)

	blocks, err := src.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, int64(0), blocks[0].Offset)
	assert.Equal(t, int32(131072), blocks[0].Size)
	assert.Equal(t, int64(131072), blocks[1].Offset)
	assert.Equal(t, int32(131072), blocks[1].Size)
	assert.Equal(t, int64(262144), blocks[2].Offset)
	assert.Equal(t, int32(37856), blocks[2].Size)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(300000), size)
}

// Splitting then concatenating all blocks in order yields the source bytes.
func TestBlockRoundTrip(t *testing.T) {
	data := make([]byte, 3*131072+17)
	for i := range data {
		data[i] = byte(i * 31)
	}
	src := NewBytes(data)

	blocks, err := src.Blocks()
	require.NoError(t, err)

	var joined []byte
	for _, b := range blocks {
		chunk, err := src.Block(b.Offset, b.Size, bep.HashHex(b.Hash))
		require.NoError(t, err)
		joined = append(joined, chunk...)
	}
	assert.Equal(t, data, joined)
}

func TestBlockInvariants(t *testing.T) {
	for _, n := range []int{1, 1000, 131072, 131073, 262144, 300000} {
		src := NewBytes(make([]byte, n))

		blocks, err := src.Blocks()
		require.NoError(t, err)
		size, err := src.Size()
		require.NoError(t, err)

		var sum int64
		for i, b := range blocks {
			assert.Equal(t, sum, b.Offset, "size %d block %d", n, i)
			assert.LessOrEqual(t, b.Size, int32(bep.BlockSize))
			assert.Positive(t, b.Size)
			if i < len(blocks)-1 {
				assert.Equal(t, int32(bep.BlockSize), b.Size, "only the last block may be short")
			}
			sum += int64(b.Size)
		}
		assert.Equal(t, size, sum, "size %d", n)
	}
}

func TestContentHash(t *testing.T) {
	data := make([]byte, 200000)
	src := NewBytes(data)

	blocks, err := src.Blocks()
	require.NoError(t, err)

	hexes := make([]string, len(blocks))
	for i, b := range blocks {
		hexes[i] = bep.HashHex(b.Hash)
	}
	want := sha256.Sum256([]byte(strings.Join(hexes, ",")))

	got, err := src.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, bep.HashHex(want[:]), got)
}

func TestFileSource(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 150000)
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, data, 0644))

	src := NewFile(path)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(150000), size)

	blocks, err := src.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	got, err := src.Block(blocks[1].Offset, blocks[1].Size, bep.HashHex(blocks[1].Hash))
	require.NoError(t, err)
	assert.Equal(t, data[131072:], got)
}

func TestBlockHashMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x43}, 1024), 0644))

	src := NewFile(path)
	blocks, err := src.Blocks()
	require.NoError(t, err)

	// Mutate the file under the source
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x44}, 1024), 0644))

	_, err = src.Block(blocks[0].Offset, blocks[0].Size, bep.HashHex(blocks[0].Hash))
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestBlockShortRead(t *testing.T) {
	src := NewBytes(make([]byte, 100))
	_, err := src.Block(90, 20, "")
	assert.Error(t, err)

	_, err = src.Block(200, 10, "")
	assert.Error(t, err)
}
