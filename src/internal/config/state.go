package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// State is the persisted service state, written on toggle and on rules path change.
type State struct {
	// Enabled controls whether the interceptor is started with the service.
	Enabled bool `toml:"enabled" json:"enabled"`
	// RulesPath overrides general.rules_file when set.
	RulesPath string `toml:"rules_path,omitempty" json:"rules_path,omitempty"`
}

// DefaultState is used when no state file exists yet.
func DefaultState() *State {
	return &State{Enabled: true}
}

// LoadState reads the state file. A missing file yields DefaultState.
func LoadState(path string) (*State, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	state := DefaultState()
	if err := toml.Unmarshal(content, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return state, nil
}

// Save atomically replaces the state file.
func (s *State) Save(path string) error {
	content, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return writeFileAtomic(path, content, 0644)
}
