package hashing

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type errorReader struct {
	err error
}

func (e *errorReader) Read(p []byte) (n int, err error) {
	return 0, e.err
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestChecksumReader_ReadAll(t *testing.T) {
	testData := "api.foo.com 10.0.0.5\n*.ads.example.com 0.0.0.0\n"
	r := NewChecksumReader(strings.NewReader(testData))

	content, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(content) != testData {
		t.Errorf("Expected content to pass through unchanged, got %q", content)
	}
	if got := r.Checksum(); got != md5Hex(testData) {
		t.Errorf("Expected checksum %s, got %s", md5Hex(testData), got)
	}
	if r.BytesRead() != int64(len(testData)) {
		t.Errorf("Expected %d bytes read, got %d", len(testData), r.BytesRead())
	}
}

func TestChecksumReader_PartialReads(t *testing.T) {
	r := NewChecksumReader(strings.NewReader("hello world"))

	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil || n != 5 {
		t.Fatalf("Expected 5 bytes without error, got %d, %v", n, err)
	}
	if got := r.Checksum(); got != md5Hex("hello") {
		t.Errorf("Expected checksum of consumed prefix, got %s", got)
	}
}

func TestChecksumReader_Error(t *testing.T) {
	want := errors.New("boom")
	r := NewChecksumReader(&errorReader{err: want})

	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, want) {
		t.Errorf("Expected underlying error, got %v", err)
	}
	if got := r.Checksum(); got != md5Hex("") {
		t.Errorf("Expected empty checksum, got %s", got)
	}
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	if err := os.WriteFile(path, []byte("example.com block\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	got, err := FileChecksum(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != md5Hex("example.com block\n") {
		t.Errorf("Unexpected checksum %s", got)
	}

	if _, err := FileChecksum(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestCombine(t *testing.T) {
	if Combine("a", "b") == Combine("b", "a") {
		t.Error("Expected Combine to be order-sensitive")
	}
	if Combine("a", "b") != Combine("a", "b") {
		t.Error("Expected Combine to be deterministic")
	}
	if Combine("ab") == Combine("a", "b") {
		t.Error("Expected part boundaries to matter")
	}
}
