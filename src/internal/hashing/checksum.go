package hashing

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// ChecksumReader computes the MD5 of everything read through it.
type ChecksumReader struct {
	reader io.Reader
	hash   hash.Hash
	n      int64
}

func NewChecksumReader(reader io.Reader) *ChecksumReader {
	return &ChecksumReader{
		reader: reader,
		hash:   md5.New(),
	}
}

func (r *ChecksumReader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)
	if n > 0 {
		// hash.Hash.Write never returns an error
		_, _ = r.hash.Write(buf[:n])
		r.n += int64(n)
	}
	return n, err
}

// Checksum returns the hex MD5 of the bytes read so far.
func (r *ChecksumReader) Checksum() string {
	return hex.EncodeToString(r.hash.Sum(nil))
}

// BytesRead returns the number of bytes passed through the reader.
func (r *ChecksumReader) BytesRead() int64 {
	return r.n
}

// FileChecksum returns the hex MD5 of a file's contents.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := NewChecksumReader(f)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return r.Checksum(), nil
}

// Combine folds several checksums (or any strings) into one, order-sensitive.
func Combine(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
