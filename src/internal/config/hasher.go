package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/hashing"
)

const hashCacheTTL = 30 * time.Second

// ConfigHasher fingerprints the configuration together with every rule source
// it references. The service records the fingerprint it started with so the
// API can report that files on disk have changed since.
type ConfigHasher struct {
	configPath string
	// rulesPath overrides general.rules_file, see State.RulesPath
	rulesPath string

	// Current hash (from files on disk) with caching
	currentHash     string
	currentHashTime time.Time

	// Active hash (from running service)
	activeHash string

	mu sync.RWMutex
}

func NewConfigHasher(configPath string) *ConfigHasher {
	return &ConfigHasher{
		configPath: configPath,
	}
}

// GetCurrentConfigHash returns cached hash of current config file
// Automatically calls UpdateCurrentConfigHash() on cache miss
func (h *ConfigHasher) GetCurrentConfigHash() (string, error) {
	h.mu.RLock()
	if time.Since(h.currentHashTime) < hashCacheTTL && h.currentHash != "" {
		hash := h.currentHash
		h.mu.RUnlock()
		return hash, nil
	}
	h.mu.RUnlock()

	return h.UpdateCurrentConfigHash()
}

// UpdateCurrentConfigHash recalculates config hash and resets cache
func (h *ConfigHasher) UpdateCurrentConfigHash() (string, error) {
	cfg, err := LoadConfig(h.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	h.mu.RLock()
	rulesPath := h.rulesPath
	h.mu.RUnlock()

	hash, err := h.CalculateHash(cfg, rulesPath)
	if err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}

	h.mu.Lock()
	h.currentHash = hash
	h.currentHashTime = time.Now()
	h.mu.Unlock()

	return hash, nil
}

// CalculateHash hashes the config sections and the contents of every rule
// source. rulesPath overrides general.rules_file when non-empty.
func (h *ConfigHasher) CalculateHash(config *Config, rulesPath string) (string, error) {
	if rulesPath == "" {
		rulesPath = config.GetAbsRulesFile()
	}

	sections, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data: %w", err)
	}

	parts := []string{string(sections), sourceHash(rulesPath)}
	for _, path := range config.GetAbsYAMLImports() {
		parts = append(parts, sourceHash(path))
	}
	for _, path := range config.GetAbsFilterLists() {
		parts = append(parts, sourceHash(path))
	}

	return hashing.Combine(parts...), nil
}

// SetRulesPath sets the rules file used instead of general.rules_file and drops the cached hash.
func (h *ConfigHasher) SetRulesPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rulesPath = path
	h.currentHash = ""
}

// IsConfigChanged reports whether the files on disk differ from what the service runs with.
func (h *ConfigHasher) IsConfigChanged() (bool, error) {
	current, err := h.GetCurrentConfigHash()
	if err != nil {
		return false, err
	}
	return current != h.GetActiveConfigHash(), nil
}

// GetActiveConfigHash returns hash of config that was active when service started
func (h *ConfigHasher) GetActiveConfigHash() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeHash
}

// SetActiveConfigHash sets the hash of config when service starts or reloads
func (h *ConfigHasher) SetActiveConfigHash(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeHash = hash
}

// sourceHash returns the file checksum, or a marker carrying the error so a
// missing file still changes the fingerprint.
func sourceHash(path string) string {
	sum, err := hashing.FileChecksum(path)
	if err != nil {
		return "error:" + path
	}
	return path + ":" + sum
}
