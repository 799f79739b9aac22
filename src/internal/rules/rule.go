package rules

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

type Action uint8

const (
	ActionRedirect Action = iota + 1
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionRedirect:
		return "redirect"
	case ActionBlock:
		return "block"
	default:
		return "unknown"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case "redirect":
		*a = ActionRedirect
	case "block":
		*a = ActionBlock
	default:
		return fmt.Errorf("unknown action %q", text)
	}
	return nil
}

const (
	wildcardPrefix = "*."
	blockKeyword   = "block"
)

// Rule maps a host pattern to a redirect target or a block.
type Rule struct {
	// Pattern is the normalized pattern as written, e.g. "api.foo.com" or "*.ads.example.com".
	Pattern string `json:"pattern"`
	// Wildcard rules match proper subdomains of Domain only.
	Wildcard bool `json:"wildcard"`
	// Domain is Pattern without the wildcard prefix.
	Domain string `json:"domain"`
	Action Action `json:"action"`
	// Target is the redirect address. For block rules it is 0.0.0.0, :: or invalid (keyword "block").
	Target netip.Addr `json:"target"`
	// Source and Line locate the rule's origin.
	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// IsBlock reports whether the rule refuses the host.
func (r Rule) IsBlock() bool {
	return r.Action == ActionBlock
}

// TargetString returns the target as it would appear in a rules file.
func (r Rule) TargetString() string {
	if r.Target.IsValid() {
		return r.Target.String()
	}
	return blockKeyword
}

func (r Rule) String() string {
	return r.Pattern + " " + r.TargetString()
}

// parsePattern validates a host pattern and returns its normalized form.
func parsePattern(raw string) (pattern, domain string, wildcard bool, err error) {
	pattern = utils.NormalizeHost(raw)
	domain = pattern

	if strings.HasPrefix(pattern, wildcardPrefix) {
		wildcard = true
		domain = strings.TrimPrefix(pattern, wildcardPrefix)
	}

	if domain == "" {
		return "", "", false, fmt.Errorf("empty host pattern")
	}
	if strings.Contains(domain, "*") {
		return "", "", false, fmt.Errorf("wildcard is only allowed as a leading \"*.\" label")
	}
	if !utils.IsDNSName(domain) {
		return "", "", false, fmt.Errorf("invalid host name %q", raw)
	}

	return pattern, domain, wildcard, nil
}

// parseTarget accepts an IPv4 or IPv6 address or the keyword "block".
// 0.0.0.0 and :: mean block, as in hosts files.
func parseTarget(raw string) (Action, netip.Addr, error) {
	if strings.EqualFold(raw, blockKeyword) {
		return ActionBlock, netip.Addr{}, nil
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return 0, netip.Addr{}, fmt.Errorf("invalid target %q: expected IP address or %q", raw, blockKeyword)
	}
	if addr.Zone() != "" {
		return 0, netip.Addr{}, fmt.Errorf("invalid target %q: zoned addresses are not supported", raw)
	}
	addr = addr.Unmap()

	if addr.IsUnspecified() {
		return ActionBlock, addr, nil
	}
	return ActionRedirect, addr, nil
}

// newRule builds a rule from a raw pattern and target.
func newRule(rawPattern, rawTarget string) (Rule, error) {
	pattern, domain, wildcard, err := parsePattern(rawPattern)
	if err != nil {
		return Rule{}, err
	}
	action, target, err := parseTarget(rawTarget)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Pattern:  pattern,
		Wildcard: wildcard,
		Domain:   domain,
		Action:   action,
		Target:   target,
	}, nil
}
