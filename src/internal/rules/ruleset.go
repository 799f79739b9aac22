package rules

import (
	"strings"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

// RuleSet is an immutable snapshot of host rules. It is safe for concurrent
// readers; reloads build a new RuleSet instead of mutating this one.
type RuleSet struct {
	rules []Rule
	exact map[string]int
	// wildcard keys are reversed domains with a trailing dot ("com.example."),
	// values are indexes into rules.
	wildcard *iradix.Tree
	filter   *FilterEngine

	sources  []string
	checksum string
	loadedAt time.Time
	report   *LoadReport
}

// Empty returns a rule set with no rules.
func Empty() *RuleSet {
	return &RuleSet{
		exact:    map[string]int{},
		wildcard: iradix.New(),
		loadedAt: time.Now(),
		report:   &LoadReport{},
	}
}

// Lookup finds the rule for host. Exact rules win over wildcard rules; among
// wildcard rules the longest matching suffix wins. Matching ignores case and
// a trailing dot.
func (s *RuleSet) Lookup(host string) (Rule, bool) {
	host = utils.NormalizeHost(host)
	if host == "" {
		return Rule{}, false
	}

	if idx, ok := s.exact[host]; ok {
		return s.rules[idx], true
	}

	// A wildcard never matches its own domain, so search from the parent.
	dot := strings.IndexByte(host, '.')
	if dot < 0 || dot == len(host)-1 {
		return Rule{}, false
	}
	_, val, ok := s.wildcard.Root().LongestPrefix([]byte(reverseKey(host[dot+1:])))
	if !ok {
		return Rule{}, false
	}
	return s.rules[val.(int)], true
}

// Filter consults the adblock filter lists compiled into this snapshot.
func (s *RuleSet) Filter(host string) (FilterMatch, bool) {
	if s.filter == nil {
		return FilterMatch{}, false
	}
	return s.filter.Match(utils.NormalizeHost(host))
}

// Rules returns the rules in load order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *RuleSet) Len() int {
	return len(s.rules)
}

// FilterRules returns the number of adblock filter rules in the snapshot.
func (s *RuleSet) FilterRules() int {
	if s.filter == nil {
		return 0
	}
	return s.filter.Count()
}

// Sources lists the files the snapshot was built from.
func (s *RuleSet) Sources() []string {
	return append([]string(nil), s.sources...)
}

// Checksum identifies the snapshot content.
func (s *RuleSet) Checksum() string {
	return s.checksum
}

func (s *RuleSet) LoadedAt() time.Time {
	return s.loadedAt
}

func (s *RuleSet) Report() *LoadReport {
	return s.report
}

// reverseKey turns "ads.example.com" into "com.example.ads." so that label-aligned
// suffixes become prefixes.
func reverseKey(domain string) string {
	labels := strings.Split(domain, ".")
	var sb strings.Builder
	sb.Grow(len(domain) + 1)
	for i := len(labels) - 1; i >= 0; i-- {
		sb.WriteString(labels[i])
		sb.WriteByte('.')
	}
	return sb.String()
}
