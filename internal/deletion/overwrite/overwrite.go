// Package overwrite implements the three-pass secure overwrite: zeros, ones,
// then random bytes, each flushed and read back before the next pass.
package overwrite

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// Method identifies the overwrite scheme in jobs and certificates.
const Method = "three_pass_zero_one_random"

const chunkSize = 64 * 1024

// Pattern is the content written by one pass.
type Pattern string

const (
	Zeros  Pattern = "zeros"
	Ones   Pattern = "ones"
	Random Pattern = "random"
)

// Passes is the fixed pass order.
var Passes = [3]Pattern{Zeros, Ones, Random}

var (
	// ErrUnchanged means a pass left the content unchanged or two passes hashed
	// the same. The item must be retried from pass 1.
	ErrUnchanged = errors.New("overwrite did not change content")
	// ErrEmpty is returned for zero-length targets, which have nothing to overwrite.
	ErrEmpty = errors.New("target is empty")
)

// Target is an item that can be overwritten in place.
type Target interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Sync() error
}

// ThreePass overwrites the target and returns the read-back hash of each pass.
// Passes are strictly sequential; each is flushed before it is read back.
func ThreePass(t Target) ([3]string, error) {
	var hashes [3]string
	size := t.Size()
	if size <= 0 {
		return hashes, ErrEmpty
	}
	for i, p := range Passes {
		written, err := writePass(t, size, p)
		if err != nil {
			return hashes, fmt.Errorf("pass %d (%s): %w", i+1, p, err)
		}
		if err := t.Sync(); err != nil {
			return hashes, fmt.Errorf("pass %d (%s) sync: %w", i+1, p, err)
		}
		readBack, err := HashContent(t, size)
		if err != nil {
			return hashes, fmt.Errorf("pass %d (%s) read back: %w", i+1, p, err)
		}
		if readBack != written {
			return hashes, fmt.Errorf("pass %d (%s): %w", i+1, p, ErrUnchanged)
		}
		hashes[i] = readBack
	}
	if err := Distinct(hashes); err != nil {
		return hashes, err
	}
	return hashes, nil
}

// Distinct checks that the pass hashes are pairwise different.
func Distinct(hashes [3]string) error {
	if hashes[0] == hashes[1] || hashes[1] == hashes[2] || hashes[0] == hashes[2] {
		return ErrUnchanged
	}
	return nil
}

// writePass fills the target with the pattern and returns the hash of what was written.
func writePass(t Target, size int64, p Pattern) (string, error) {
	buf := make([]byte, min(size, chunkSize))
	fill(buf, p)
	h := sha256.New()
	for off := int64(0); off < size; {
		n := int(min(size-off, int64(len(buf))))
		chunk := buf[:n]
		if p == Random {
			if _, err := rand.Read(chunk); err != nil {
				return "", fmt.Errorf("random fill: %w", err)
			}
		}
		if _, err := t.WriteAt(chunk, off); err != nil {
			return "", err
		}
		h.Write(chunk)
		off += int64(n)
	}
	clear(buf)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fill(buf []byte, p Pattern) {
	var b byte
	if p == Ones {
		b = 0xFF
	}
	for i := range buf {
		buf[i] = b
	}
}

// HashContent reads size bytes from r and returns their hex SHA-256.
func HashContent(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if err := copyAt(h, r, size); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyAt(h hash.Hash, r io.ReaderAt, size int64) error {
	buf := make([]byte, min(size, chunkSize))
	for off := int64(0); off < size; {
		n := int(min(size-off, int64(len(buf))))
		read, err := r.ReadAt(buf[:n], off)
		if read < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		h.Write(buf[:n])
		off += int64(n)
	}
	return nil
}
