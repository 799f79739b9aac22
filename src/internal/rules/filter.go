package rules

import (
	"strings"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
)

// FilterMatch is the outcome of an adblock filter list match.
type FilterMatch struct {
	// Rule is the matching filter rule text.
	Rule string `json:"rule"`
	// Allowed is set for exception rules (@@).
	Allowed bool `json:"allowed"`
}

// FilterEngine matches host names against adblock-syntax filter lists.
type FilterEngine struct {
	engine *urlfilter.DNSEngine
	count  int
}

// NewFilterEngine compiles the given filter list texts into one DNS engine.
func NewFilterEngine(lists []string) (*FilterEngine, error) {
	rulesText := strings.Join(lists, "\n")

	stringList := filterlist.NewString(&filterlist.StringConfig{
		RulesText:      rulesText,
		ID:             1,
		IgnoreCosmetic: true,
	})

	storage, err := filterlist.NewRuleStorage([]filterlist.Interface{stringList})
	if err != nil {
		return nil, err
	}

	engine := urlfilter.NewDNSEngine(storage)
	return &FilterEngine{
		engine: engine,
		count:  engine.RulesCount,
	}, nil
}

// Match returns the filter decision for host. ok is false when no rule matched.
func (e *FilterEngine) Match(host string) (FilterMatch, bool) {
	if e == nil || e.engine == nil || host == "" {
		return FilterMatch{}, false
	}

	result, matched := e.engine.Match(host)
	if !matched || result == nil || result.NetworkRule == nil {
		return FilterMatch{}, false
	}

	text := result.NetworkRule.Text()
	return FilterMatch{
		Rule:    text,
		Allowed: strings.HasPrefix(text, "@@"),
	}, true
}

func (e *FilterEngine) Count() int {
	if e == nil {
		return 0
	}
	return e.count
}
