// Package digest computes the SHA-1 and SHA-512 content digests used to
// address pack files, in a single streaming pass.
package digest

import (
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// ChunkSize is the read buffer size used when streaming a source.
const ChunkSize = 64 * 1024

const (
	SHA1HexLen   = 40
	SHA512HexLen = 128
)

// Sum holds both digests of one byte stream as lowercase hex.
type Sum struct {
	SHA1   string
	SHA512 string
}

// Hasher is an io.Writer that feeds every byte into both digests.
type Hasher struct {
	sha1   hash.Hash
	sha512 hash.Hash
	n      int64
}

// NewHasher creates an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{sha1: sha1.New(), sha512: sha512.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	// hash.Hash.Write never returns an error
	_, _ = h.sha1.Write(p)
	_, _ = h.sha512.Write(p)
	h.n += int64(len(p))
	return len(p), nil
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 {
	return h.n
}

// Sum returns the digests of everything written so far.
func (h *Hasher) Sum() Sum {
	return Sum{
		SHA1:   hex.EncodeToString(h.sha1.Sum(nil)),
		SHA512: hex.EncodeToString(h.sha512.Sum(nil)),
	}
}

// Compute streams r in ChunkSize pieces and returns both digests and the
// number of bytes read. On a read error no digest is returned.
func Compute(r io.Reader) (Sum, int64, error) {
	h := NewHasher()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return Sum{}, 0, err
	}
	return h.Sum(), n, nil
}

// ComputeFile computes the digests of the file at path.
func ComputeFile(path string) (Sum, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sum{}, 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	sum, n, err := Compute(f)
	if err != nil {
		return Sum{}, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return sum, n, nil
}

// ValidSHA1 reports whether s is a lowercase hex SHA-1 digest.
func ValidSHA1(s string) bool {
	return isLowerHex(s, SHA1HexLen)
}

// ValidSHA512 reports whether s is a lowercase hex SHA-512 digest.
func ValidSHA512(s string) bool {
	return isLowerHex(s, SHA512HexLen)
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
