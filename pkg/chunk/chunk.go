// Package chunk splits buffers into fixed-size chunks and summarizes them
// with a Merkle root, used by the patch container to verify reconstructed
// output against the original target.
package chunk

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/cbergoon/merkletree"
)

// DefaultSize is the chunk size used when none is configured.
const DefaultSize = 256 * 1024

// Split cuts data into chunks of at most size bytes. A non-positive size
// yields the whole buffer as a single chunk.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{}
	}
	if size <= 0 {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// content adapts one chunk to the merkletree.Content interface.
type content struct {
	data []byte
}

// CalculateHash implements merkletree.Content.
func (c content) CalculateHash() ([]byte, error) {
	h := sha256.Sum256(c.data)
	return h[:], nil
}

// Equals implements merkletree.Content.
func (c content) Equals(other merkletree.Content) (bool, error) {
	oc, ok := other.(content)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return bytes.Equal(c.data, oc.data), nil
}

// Root computes the Merkle root of data split into size-byte chunks.
func Root(data []byte, size int) ([]byte, error) {
	chunks := Split(data, size)
	if len(chunks) == 0 {
		// merkletree rejects empty trees; an empty buffer gets the
		// hash of no bytes as its root.
		h := sha256.Sum256(nil)
		return h[:], nil
	}

	contents := make([]merkletree.Content, len(chunks))
	for i, c := range chunks {
		contents[i] = content{data: c}
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return tree.MerkleRoot(), nil
}

// Verify recomputes the Merkle root of data and compares it against the
// expected root.
func Verify(data []byte, size int, expectedRoot []byte) error {
	root, err := Root(data, size)
	if err != nil {
		return err
	}
	if !bytes.Equal(root, expectedRoot) {
		return fmt.Errorf("merkle root mismatch: expected %x, got %x", expectedRoot, root)
	}
	return nil
}
