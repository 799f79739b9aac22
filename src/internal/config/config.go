package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

const (
	IPTABLES_TMPL_DNS_PORT    = "dns_port"
	IPTABLES_TMPL_ROUTER_PORT = "router_port"
	IPTABLES_TMPL_CHAIN       = "chain"
	IPTABLES_TMPL_MARK        = "mark"
)

func LoadConfig(configPath string) (*Config, error) {
	configFile := filepath.Clean(configPath)

	if !filepath.IsAbs(configFile) {
		if path, err := filepath.Abs(configFile); err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %v", err)
		} else {
			configFile = path
		}
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Errorf("Configuration file not found: %s", configFile)
		return nil, fmt.Errorf("configuration file not found: %s", configFile)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	config, err := ParseConfig(content)
	if err != nil {
		return nil, err
	}
	config._absConfigFilePath = configFile

	log.Debugf("Configuration file path: %s", configFile)
	log.Debugf("Rules file: %s", config.GetAbsRulesFile())

	return config, nil
}

// ParseConfig decodes TOML content and fills in missing sections.
// The result has no file path; relative paths resolve against the working directory.
func ParseConfig(content []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(content, &config); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			log.Errorf("%s", derr.String())
			row, col := derr.Position()
			log.Errorf("Error at line %d, column %d", row, col)
			return nil, fmt.Errorf("failed to parse config file at line %d, column %d", row, col)
		}
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	config.fillSections()
	return &config, nil
}

// fillSections replaces omitted sections with zero values so getters can apply defaults.
func (c *Config) fillSections() {
	if c.General == nil {
		c.General = &GeneralConfig{}
	}
	if c.DNS == nil {
		c.DNS = &DNSConfig{}
	}
	if c.Router == nil {
		c.Router = &RouterConfig{}
	}
	if c.Capture == nil {
		c.Capture = &CaptureConfig{}
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
}

func (c *Config) SerializeConfig() (*bytes.Buffer, error) {
	buf := bytes.Buffer{}
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return &buf, nil
}

func (c *Config) WriteConfig() error {
	config, err := c.SerializeConfig()
	if err != nil {
		return err
	}
	return writeFileAtomic(c._absConfigFilePath, config.Bytes(), 0644)
}

// writeFileAtomic writes data to a temporary file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
