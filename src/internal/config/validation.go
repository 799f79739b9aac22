package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig validates the entire configuration and returns all validation errors
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	if c.General == nil {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "general",
			Message:   "configuration must contain 'general' section",
		})
		return validationErrors
	}
	c.fillSections()

	sections := []struct {
		prefix string
		value  any
	}{
		{"general", c.General},
		{"dns", c.DNS},
		{"router", c.Router},
		{"capture", c.Capture},
		{"api", c.API},
	}
	for _, s := range sections {
		if err := validate.Struct(s.value); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, s.prefix, "")...)
		}
	}

	validationErrors = append(validationErrors, c.validatePorts()...)
	validationErrors = append(validationErrors, c.validateSources()...)

	if len(validationErrors) > 0 {
		return validationErrors
	}

	return nil
}

// validatePorts rejects listener collisions and a router port that is itself captured.
func (c *Config) validatePorts() ValidationErrors {
	var validationErrors ValidationErrors

	dnsPort := c.DNS.GetListenPort()
	routerPort := c.Router.GetListenPort()

	if dnsPort == routerPort {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "router.listen_port",
			Message:   fmt.Sprintf("port %d is already used by dns.listen_port", routerPort),
		})
	}

	for _, port := range c.Router.GetCapturePorts() {
		if port == routerPort {
			validationErrors = append(validationErrors, ValidationError{
				FieldPath: "router.capture_ports",
				Message:   fmt.Sprintf("router listen port %d must not be captured", port),
			})
		}
	}

	return validationErrors
}

// validateSources checks that optional rule sources exist. The main rules file
// may be missing: the service starts with an empty rule set in that case.
func (c *Config) validateSources() ValidationErrors {
	var validationErrors ValidationErrors

	check := func(kind string, paths []string) {
		for i, path := range paths {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				validationErrors = append(validationErrors, ValidationError{
					ItemName:  fmt.Sprintf("%s[%d]", kind, i),
					FieldPath: "general." + kind,
					Message:   fmt.Sprintf("file does not exist: %s", path),
				})
			}
		}
	}

	check("yaml_imports", c.absPaths(c.General.YAMLImports))
	check("filter_lists", c.absPaths(c.General.FilterLists))

	seen := make(map[string]bool)
	for i, list := range c.General.RemoteLists {
		if list == nil || list.Name == "" {
			continue
		}
		if seen[list.Name] {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  fmt.Sprintf("remote_list[%d]", i),
				FieldPath: "general.remote_list.name",
				Message:   fmt.Sprintf("duplicate remote list name: %s", list.Name),
			})
		}
		seen[list.Name] = true
	}

	return validationErrors
}

func convertValidatorErrors(err error, fieldPrefix string, itemName string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if errors.As(err, &validatorErrs) {
		for _, e := range validatorErrs {
			fieldPath := fieldPrefix
			// Namespace carries TOML tag names (see TagNameFunc); drop the root struct name
			if _, rel, ok := strings.Cut(e.Namespace(), "."); ok && rel != "" {
				if fieldPrefix != "" {
					fieldPath = fieldPrefix + "." + rel
				} else {
					fieldPath = rel
				}
			}

			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: fieldPath,
				Message:   getValidationMessage(e),
			})
		}
	}

	return validationErrors
}
