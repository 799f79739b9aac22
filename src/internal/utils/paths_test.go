package utils

import (
	"path/filepath"
	"testing"
)

func TestGetAbsolutePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		baseDir string
		want    string
	}{
		{"absolute path is kept", "/etc/hosts-redirect/rules.txt", "/opt/etc", "/etc/hosts-redirect/rules.txt"},
		{"relative file", "rules.txt", "/opt/etc/hosts-redirect", "/opt/etc/hosts-redirect/rules.txt"},
		{"relative dir", "lists.d/ads.txt", "/opt/etc/hosts-redirect", "/opt/etc/hosts-redirect/lists.d/ads.txt"},
		{"dot prefix", "./state.toml", "/opt/etc/hosts-redirect", "/opt/etc/hosts-redirect/state.toml"},
		{"parent dir", "../shared/rules.txt", "/opt/etc/hosts-redirect", "/opt/etc/shared/rules.txt"},
		{"empty path", "", "/opt/etc/hosts-redirect", "/opt/etc/hosts-redirect"},
		{"empty base", "rules.txt", "", "rules.txt"},
		{"unclean path", "a//b/../rules.txt", "/opt/etc", "/opt/etc/a/rules.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetAbsolutePath(tt.path, tt.baseDir)
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("GetAbsolutePath(%q, %q) = %q, want %q", tt.path, tt.baseDir, got, tt.want)
			}
		})
	}
}
