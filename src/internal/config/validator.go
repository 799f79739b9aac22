package config

import (
	"fmt"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var chainNameRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,27}$`)

// getValidationMessage returns a human-readable message for a validation error
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "ip_or_empty":
		return "must be a valid IP address (IPv6 must be in square brackets, e.g., [::1]) or empty"
	case "hostport_or_empty":
		return "must be in format 'host:port' or empty"
	case "upstream_url":
		return "must be a valid upstream URL (udp://ip:port, tcp://ip:port, or doh://host/path)"
	case "port_list":
		return "must contain unique ports in range 1-65535"
	case "chain_name":
		return "must start with a letter and contain at most 28 characters [A-Za-z0-9_-]"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	ItemName  string // For repeated items: the item label (e.g., "iptables_rule[0]")
	FieldPath string // Dot-notation field path (e.g., "dns.upstreams.0")
	Message   string // Human-readable error message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		if err.ItemName != "" {
			sb.WriteString(fmt.Sprintf("  %d. [%s] %s: %s\n", i+1, err.ItemName, err.FieldPath, err.Message))
		} else {
			sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.FieldPath, err.Message))
		}
	}
	return sb.String()
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	validators := map[string]validator.Func{
		"ip_or_empty":       validateIPOrEmpty,
		"hostport_or_empty": validateHostPortOrEmpty,
		"upstream_url":      validateUpstreamURLTag,
		"port_list":         validatePortList,
		"chain_name":        validateChainName,
	}
	for tag, fn := range validators {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}

	// Report fields by their "toml" tag
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Custom validator: IP address or empty (IPv6 must be in square brackets)
func validateIPOrEmpty(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return validateIPAddress(value)
}

func validateIPAddress(value string) bool {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		addr := strings.Trim(value, "[]")
		if addr == "::" {
			return true
		}
		ip := net.ParseIP(addr)
		return ip != nil && ip.To4() == nil
	}

	ip := net.ParseIP(value)
	return ip != nil && ip.To4() != nil
}

func validateHostPortOrEmpty(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, _, err := net.SplitHostPort(value)
	return err == nil
}

func validateUpstreamURLTag(fl validator.FieldLevel) bool {
	return ValidateUpstreamURL(fl.Field().String()) == nil
}

// validatePortList accepts an empty list (defaults apply) or unique non-zero ports.
func validatePortList(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice {
		return false
	}
	seen := make(map[uint64]bool, field.Len())
	for i := 0; i < field.Len(); i++ {
		port := field.Index(i).Uint()
		if port == 0 || port > 65535 || seen[port] {
			return false
		}
		seen[port] = true
	}
	return true
}

func validateChainName(fl validator.FieldLevel) bool {
	return chainNameRegexp.MatchString(fl.Field().String())
}

// ValidateUpstreamURL validates DNS upstream URL format
func ValidateUpstreamURL(upstream string) error {
	if upstream == "" {
		return fmt.Errorf("upstream URL cannot be empty")
	}

	switch {
	case strings.HasPrefix(upstream, "udp://"), strings.HasPrefix(upstream, "tcp://"):
		addr := upstream[len("udp://"):]
		host, _, err := net.SplitHostPort(addr)
		if err != nil || net.ParseIP(host) == nil {
			return fmt.Errorf("invalid upstream format (expected %sip:port)", upstream[:len("udp://")])
		}
		return nil

	case strings.HasPrefix(upstream, "doh://"):
		rest := strings.TrimPrefix(upstream, "doh://")
		if rest == "" || !strings.Contains(rest, "/") {
			return fmt.Errorf("invalid DoH upstream format (expected doh://host/path)")
		}
		if _, err := url.Parse("https://" + rest); err != nil {
			return fmt.Errorf("invalid DoH upstream: %v", err)
		}
		return nil
	}

	return fmt.Errorf("unsupported upstream scheme (supported: udp://, tcp://, doh://)")
}
