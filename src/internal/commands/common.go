package commands

import (
	"fmt"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
)

type Runner interface {
	Init(args []string, globalArgs *AppContext) error
	Run() error
	Name() string
}

type AppContext struct {
	ConfigPath string
	Verbose    bool
}

// loadConfigOrFail loads the configuration without validating it.
func loadConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	return cfg, nil
}

// loadAndValidateConfigOrFail loads configuration from file and validates it.
// Interface presence is checked separately by the commands that capture traffic.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := loadConfigOrFail(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}

// lockPath is the instance lock next to the state file.
func lockPath(cfg *config.Config) string {
	return cfg.GetAbsStateFile() + ".lock"
}
