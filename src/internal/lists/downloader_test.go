package lists

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
)

func listsConfig(dir string, lists ...*config.RemoteList) *config.Config {
	return &config.Config{
		General: &config.GeneralConfig{
			ListsDir:    dir,
			RemoteLists: lists,
		},
	}
}

func TestDownloadLists_EmptyConfig(t *testing.T) {
	cfg := listsConfig(t.TempDir())

	changed, err := DownloadLists(cfg)
	if err != nil {
		t.Errorf("Expected no error for empty config, got: %v", err)
	}
	if changed != 0 {
		t.Errorf("Expected nothing changed, got %d", changed)
	}
}

func TestDownloadLists_SuccessfulDownload(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "||ads.example.com^\n@@||good.example.com^\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testContent))
	}))
	defer server.Close()

	cfg := listsConfig(tmpDir, &config.RemoteList{Name: "ads", URL: server.URL})

	changed, err := DownloadLists(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 changed list, got %d", changed)
	}

	expectedPath := filepath.Join(tmpDir, "ads.txt")
	content, err := os.ReadFile(expectedPath)
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if string(content) != testContent {
		t.Errorf("Expected content '%s', got '%s'", testContent, string(content))
	}

	if _, err := os.Stat(expectedPath + ".md5"); os.IsNotExist(err) {
		t.Error("Expected checksum file to be created")
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be removed")
	}
}

func TestDownloadLists_YAMLExtension(t *testing.T) {
	tmpDir := t.TempDir()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rewrites:\n  - domain: example.com\n    answer: 10.0.0.1\n"))
	}))
	defer server.Close()

	cfg := listsConfig(tmpDir, &config.RemoteList{Name: "rewrites", URL: server.URL, Format: config.ListFormatYAML})

	if _, err := DownloadLists(cfg); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "rewrites.yaml")); err != nil {
		t.Errorf("Expected YAML list to be stored with .yaml extension: %v", err)
	}
}

func TestDownloadLists_UnchangedContent(t *testing.T) {
	tmpDir := t.TempDir()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("||ads.example.com^\n"))
	}))
	defer server.Close()

	cfg := listsConfig(tmpDir, &config.RemoteList{Name: "ads", URL: server.URL})

	if changed, err := DownloadLists(cfg); err != nil || changed != 1 {
		t.Fatalf("First download: changed=%d err=%v", changed, err)
	}
	changed, err := DownloadLists(cfg)
	if err != nil {
		t.Fatalf("Second download failed: %v", err)
	}
	if changed != 0 {
		t.Errorf("Expected unchanged content not to count as changed, got %d", changed)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected 2 requests, got %d", hits)
	}
}

func TestDownloadLists_HTTPError(t *testing.T) {
	tmpDir := t.TempDir()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Server Error"))
	}))
	defer server.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("||ads.example.com^\n"))
	}))
	defer good.Close()

	cfg := listsConfig(tmpDir,
		&config.RemoteList{Name: "broken", URL: server.URL},
		&config.RemoteList{Name: "good", URL: good.URL},
	)

	changed, err := DownloadLists(cfg)
	if err == nil {
		t.Fatal("Expected error for failed download")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Expected error to name the failed list, got: %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected the other list to be downloaded, got %d changed", changed)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "broken.txt")); !os.IsNotExist(err) {
		t.Error("Expected file not to be created on HTTP error")
	}
}

func TestDownloadLists_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg := listsConfig(t.TempDir(), &config.RemoteList{Name: "offline", URL: url})

	if _, err := DownloadLists(cfg); err == nil {
		t.Error("Expected error for unreachable server")
	}
}

func TestDownloadMissingLists(t *testing.T) {
	tmpDir := t.TempDir()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("||fresh.example.com^\n"))
	}))
	defer server.Close()

	existing := filepath.Join(tmpDir, "present.txt")
	if err := os.WriteFile(existing, []byte("||old.example.com^\n"), 0644); err != nil {
		t.Fatalf("Failed to create list: %v", err)
	}

	cfg := listsConfig(tmpDir,
		&config.RemoteList{Name: "present", URL: server.URL},
		&config.RemoteList{Name: "missing", URL: server.URL},
	)

	changed, err := DownloadMissingLists(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if changed != 1 || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected only the missing list to be fetched, changed=%d hits=%d", changed, hits)
	}

	content, _ := os.ReadFile(existing)
	if string(content) != "||old.example.com^\n" {
		t.Errorf("Expected present list to be left alone, got %q", content)
	}
}

func TestMissingLists(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "ads.txt"), []byte("||ads.example.com^\n"), 0644); err != nil {
		t.Fatalf("Failed to create list: %v", err)
	}

	cfg := listsConfig(tmpDir,
		&config.RemoteList{Name: "ads", URL: "https://example.com/ads.txt"},
		&config.RemoteList{Name: "ads", URL: "https://example.com/ads.yaml", Format: config.ListFormatYAML},
		&config.RemoteList{Name: "trackers", URL: "https://example.com/trackers.txt"},
	)

	missing := MissingLists(cfg)
	if len(missing) != 2 || missing[0].GetFormat() != config.ListFormatYAML || missing[1].Name != "trackers" {
		t.Errorf("Unexpected missing lists: %v", missing)
	}
}
