package domain

import (
	"fmt"
	"net/netip"

	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

type DecisionKind uint8

const (
	Passthrough DecisionKind = iota
	Redirect
	Block
)

func (k DecisionKind) String() string {
	switch k {
	case Passthrough:
		return "PASSTHROUGH"
	case Redirect:
		return "REDIRECT"
	case Block:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

func (k DecisionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DecisionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PASSTHROUGH":
		*k = Passthrough
	case "REDIRECT":
		*k = Redirect
	case "BLOCK":
		*k = Block
	default:
		return fmt.Errorf("unknown decision %q", text)
	}
	return nil
}

// Decision is the outcome for one query or connection.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	// Target is set for Redirect, and for Block when the rule named a null address.
	Target netip.Addr `json:"target,omitempty"`
	// Rule is the matching host rule, if any.
	Rule *rules.Rule `json:"rule,omitempty"`
	// Filter is the matching filter list rule text, if the decision came from a filter list.
	Filter string `json:"filter,omitempty"`
}

// Decide consults the snapshot for host. Host rules take precedence over
// filter lists; anything unmatched passes through.
func Decide(set *rules.RuleSet, host string) Decision {
	if set == nil || host == "" {
		return Decision{Kind: Passthrough}
	}

	if rule, ok := set.Lookup(host); ok {
		d := Decision{Kind: Redirect, Target: rule.Target, Rule: &rule}
		if rule.IsBlock() {
			d.Kind = Block
		}
		return d
	}

	if match, ok := set.Filter(host); ok {
		if match.Allowed {
			return Decision{Kind: Passthrough, Filter: match.Rule}
		}
		return Decision{Kind: Block, Filter: match.Rule}
	}

	return Decision{Kind: Passthrough}
}

func (d Decision) String() string {
	switch {
	case d.Kind == Redirect:
		return d.Kind.String() + "(" + d.Target.String() + ")"
	case d.Filter != "":
		return d.Kind.String() + "[" + d.Filter + "]"
	default:
		return d.Kind.String()
	}
}
