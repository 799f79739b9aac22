package lists

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/hashing"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

const (
	downloadTimeout = 60 * time.Second

	// maxListSize bounds a single downloaded list.
	maxListSize = 64 << 20
)

var httpClient = &http.Client{Timeout: downloadTimeout}

// DownloadList downloads a single list from its URL.
// Returns (changed, error) where changed indicates if the file was updated.
func DownloadList(list *config.RemoteList, cfg *config.Config) (bool, error) {
	listsDir := cfg.GetAbsListsDir()
	if err := os.MkdirAll(listsDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create lists directory: %v", err)
	}

	log.Infof("Downloading list \"%s\" from URL: %s", list.Name, list.URL)

	resp, err := httpClient.Get(list.URL)
	if err != nil {
		return false, fmt.Errorf("failed to download list \"%s\": %v", list.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("failed to download list \"%s\": %s", list.Name, resp.Status)
	}

	body := hashing.NewChecksumReader(io.LimitReader(resp.Body, maxListSize+1))
	content, err := io.ReadAll(body)
	if err != nil {
		return false, fmt.Errorf("failed to read response for list \"%s\": %v", list.Name, err)
	}
	if len(content) > maxListSize {
		return false, fmt.Errorf("list \"%s\" exceeds %d bytes", list.Name, maxListSize)
	}

	filePath := list.GetAbsolutePath(cfg)
	if !IsFileChanged(body, filePath) {
		log.Infof("List \"%s\" is not changed, skipping write to disk", list.Name)
		return false, nil
	}

	// write-then-rename so a reload never reads a partial file
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return false, fmt.Errorf("failed to write list file to %s: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to move list file to %s: %v", filePath, err)
	}
	if err := WriteChecksum(body, filePath); err != nil {
		return false, fmt.Errorf("failed to write list checksum: %v", err)
	}

	log.Infof("List \"%s\" downloaded successfully (%d bytes)", list.Name, body.BytesRead())
	return true, nil
}

// DownloadLists downloads every remote list. A failing list does not stop
// the others; all failures are returned together.
func DownloadLists(cfg *config.Config) (changed int, err error) {
	var errs []error
	for _, list := range cfg.General.RemoteLists {
		updated, dlErr := DownloadList(list, cfg)
		if dlErr != nil {
			log.Errorf("Error downloading list \"%s\": %v", list.Name, dlErr)
			errs = append(errs, dlErr)
			continue
		}
		if updated {
			changed++
		}
	}
	return changed, stderrors.Join(errs...)
}

// DownloadMissingLists downloads only the lists that have no local copy yet.
func DownloadMissingLists(cfg *config.Config) (changed int, err error) {
	var errs []error
	for _, list := range MissingLists(cfg) {
		if _, dlErr := DownloadList(list, cfg); dlErr != nil {
			log.Errorf("Error downloading list \"%s\": %v", list.Name, dlErr)
			errs = append(errs, dlErr)
			continue
		}
		changed++
	}
	return changed, stderrors.Join(errs...)
}

// MissingLists returns the remote lists that were never downloaded. They are
// left out of the rule sources until they are.
func MissingLists(cfg *config.Config) []*config.RemoteList {
	var missing []*config.RemoteList
	for _, list := range cfg.General.RemoteLists {
		if _, err := os.Stat(list.GetAbsolutePath(cfg)); err != nil {
			missing = append(missing, list)
		}
	}
	return missing
}
