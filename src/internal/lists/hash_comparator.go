package lists

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

// checksumSource yields the checksum of downloaded content.
type checksumSource interface {
	Checksum() string
}

// IsFileChanged reports whether filePath differs from content with the given
// checksum. A missing file or sidecar counts as changed.
func IsFileChanged(sum checksumSource, filePath string) bool {
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		return true
	}

	checksumFilePath := filePath + ".md5"
	checksum, err := readChecksum(checksumFilePath)
	if err != nil {
		log.Debugf("Failed to read checksum file '%s', assuming it's changed: %v", checksumFilePath, err)
		return true
	}
	return strings.TrimSpace(string(checksum)) != sum.Checksum()
}

func readChecksum(checksumFilePath string) ([]byte, error) {
	checksumFile, err := os.Open(checksumFilePath)
	if err != nil {
		return nil, err
	}
	defer utils.CloseOrWarn(checksumFile)

	return io.ReadAll(checksumFile)
}

func WriteChecksum(sum checksumSource, filePath string) error {
	return os.WriteFile(filePath+".md5", []byte(sum.Checksum()), 0644)
}
