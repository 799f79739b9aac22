package networking

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	"github.com/valyala/fasttemplate"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
)

const (
	natTable = "nat"

	chainPrerouting = "PREROUTING"
	chainOutput     = "OUTPUT"

	// dnsPort is the DNS port we're redirecting from.
	dnsPort = 53
)

// CaptureOptions describes what the capture chain redirects and where.
type CaptureOptions struct {
	Chain         string
	DNSPort       uint16
	RouterPort    uint16
	CapturePorts  []uint16
	Interfaces    []string
	CaptureOutput bool
	Mark          uint32
	ExtraRules    []*config.IPTablesRule
}

// CaptureOptionsFromConfig collects capture settings from all config sections.
func CaptureOptionsFromConfig(cfg *config.Config) CaptureOptions {
	return CaptureOptions{
		Chain:         cfg.Capture.GetChain(),
		DNSPort:       cfg.DNS.GetListenPort(),
		RouterPort:    cfg.Router.GetListenPort(),
		CapturePorts:  cfg.Router.GetCapturePorts(),
		Interfaces:    cfg.Capture.Interfaces,
		CaptureOutput: cfg.Capture.CaptureOutput,
		Mark:          cfg.Router.GetRouteMark(),
		ExtraRules:    cfg.Capture.IPTablesRules,
	}
}

// markHex formats the route mark the way iptables prints it.
func (o CaptureOptions) markHex() string {
	return "0x" + strconv.FormatUint(uint64(o.Mark), 16)
}

// chainRules builds the rules of the capture chain for one protocol family.
//
// Order matters: the router's own marked sockets leave the chain first, DNS
// is redirected for every destination, traffic to the host itself is left
// alone, and only then the capture ports go to the session router.
func chainRules(opts CaptureOptions, proto iptables.Protocol, local []netip.Addr) [][]string {
	var rules [][]string

	rules = append(rules, []string{"-m", "mark", "--mark", opts.markHex(), "-j", "RETURN"})

	for _, p := range []string{"udp", "tcp"} {
		rules = append(rules, []string{
			"-p", p,
			"--dport", strconv.Itoa(dnsPort),
			"-j", "REDIRECT",
			"--to-ports", strconv.Itoa(int(opts.DNSPort)),
		})
	}

	if proto == iptables.ProtocolIPv6 {
		rules = append(rules, []string{"-d", "::1/128", "-j", "RETURN"})
	} else {
		rules = append(rules, []string{"-d", "127.0.0.0/8", "-j", "RETURN"})
	}

	for _, addr := range local {
		if addr.Is4() == (proto == iptables.ProtocolIPv6) {
			continue
		}
		rules = append(rules, []string{"-d", addr.String(), "-j", "RETURN"})
	}

	for _, port := range opts.CapturePorts {
		rules = append(rules, []string{
			"-p", "tcp",
			"--dport", strconv.Itoa(int(port)),
			"-j", "REDIRECT",
			"--to-ports", strconv.Itoa(int(opts.RouterPort)),
		})
	}

	return rules
}

// jumpRule is a rule linking a built-in chain to the capture chain.
type jumpRule struct {
	chain string
	spec  []string
}

func jumpRules(opts CaptureOptions) []jumpRule {
	var jumps []jumpRule
	if len(opts.Interfaces) == 0 {
		jumps = append(jumps, jumpRule{chainPrerouting, []string{"-j", opts.Chain}})
	}
	for _, iface := range opts.Interfaces {
		jumps = append(jumps, jumpRule{chainPrerouting, []string{"-i", iface, "-j", opts.Chain}})
	}
	if opts.CaptureOutput {
		jumps = append(jumps, jumpRule{chainOutput, []string{"-j", opts.Chain}})
	}
	return jumps
}

// extraRules expands template variables in the user-defined rules.
func extraRules(opts CaptureOptions) ([]*config.IPTablesRule, error) {
	rules := make([]*config.IPTablesRule, len(opts.ExtraRules))

	for i, rule := range opts.ExtraRules {
		ruleSpecs := make([]string, len(rule.Rule))
		for j, ruleSpec := range rule.Rule {
			spec, err := processRulePart(ruleSpec, opts)
			if err != nil {
				return nil, fmt.Errorf("iptables_rule[%d]: %w", i, err)
			}
			ruleSpecs[j] = spec
		}

		chain, err := processRulePart(rule.Chain, opts)
		if err != nil {
			return nil, fmt.Errorf("iptables_rule[%d]: %w", i, err)
		}
		table, err := processRulePart(rule.Table, opts)
		if err != nil {
			return nil, fmt.Errorf("iptables_rule[%d]: %w", i, err)
		}

		rules[i] = &config.IPTablesRule{Chain: chain, Table: table, Rule: ruleSpecs}
	}

	return rules, nil
}

// Validate checks that the extra rule templates expand.
func (o CaptureOptions) Validate() error {
	_, err := extraRules(o)
	return err
}

func processRulePart(template string, opts CaptureOptions) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	t, err := fasttemplate.NewTemplate(template, "{{", "}}")
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", template, err)
	}
	return t.ExecuteString(map[string]interface{}{
		config.IPTABLES_TMPL_DNS_PORT:    strconv.Itoa(int(opts.DNSPort)),
		config.IPTABLES_TMPL_ROUTER_PORT: strconv.Itoa(int(opts.RouterPort)),
		config.IPTABLES_TMPL_CHAIN:       opts.Chain,
		config.IPTABLES_TMPL_MARK:        opts.markHex(),
	}), nil
}
