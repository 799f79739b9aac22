package networking

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// ipTables is the subset of *iptables.IPTables used by the capture chain.
type ipTables interface {
	Proto() iptables.Protocol
	NewChain(table, chain string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	ChainExists(table, chain string) (bool, error)
	AppendUnique(table, chain string, rulespec ...string) error
	InsertUnique(table, chain string, pos int, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

var _ domain.CaptureHandle = (*IPTablesCapture)(nil)

// IPTablesCapture diverts DNS and TCP traffic to the local listeners with a
// dedicated nat chain of REDIRECT rules.
type IPTablesCapture struct {
	mu sync.Mutex

	opts      CaptureOptions
	active    bool
	addresses []netip.Addr

	ipt4 ipTables
	ipt6 ipTables

	localAddresses func() ([]netip.Addr, error)
}

// NewCapture returns the capture handle configured by cfg. When capture is
// disabled the returned handle only tracks ownership.
func NewCapture(cfg *config.Config) (domain.CaptureHandle, error) {
	if !cfg.Capture.Enable {
		return &NoopCapture{}, nil
	}
	return NewIPTablesCapture(CaptureOptionsFromConfig(cfg))
}

// NewIPTablesCapture creates a capture handle. IPv6 is used when ip6tables is available.
func NewIPTablesCapture(opts CaptureOptions) (*IPTablesCapture, error) {
	ipt4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, errors.NewCaptureError("failed to create iptables (IPv4)", err)
	}

	c := &IPTablesCapture{
		opts:           opts,
		ipt4:           ipt4,
		localAddresses: LocalAddresses,
	}

	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		// IPv6 might not be available, that's okay
		log.Debugf("IPv6 iptables not available: %v", err)
	} else {
		c.ipt6 = ipt6
	}

	return c, nil
}

// Acquire installs the capture chain. Leftovers of a previous run are removed first.
func (c *IPTablesCapture) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return errors.NewCaptureError("capture handle is already held", nil)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCaptureError("capture acquisition cancelled", err)
	}

	addresses, err := c.localAddresses()
	if err != nil {
		return errors.NewCaptureError("failed to get local addresses", err)
	}
	c.addresses = addresses

	if stale := c.chainExists(); stale {
		log.Warnf("Capture chain %s already exists, removing leftovers", c.opts.Chain)
	}
	c.removeAll()

	if err := c.install(); err != nil {
		c.removeAll()
		return errors.NewCaptureError("failed to install capture rules", err)
	}

	c.active = true
	log.Infof("Capture enabled (dns 53 -> %d, tcp %v -> %d)",
		c.opts.DNSPort, c.opts.CapturePorts, c.opts.RouterPort)

	return nil
}

// Release removes the capture chain. Releasing an inactive handle is a no-op.
func (c *IPTablesCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}

	c.active = false
	if err := c.removeAll(); err != nil {
		return errors.NewCaptureError("failed to remove capture rules", err)
	}

	log.Infof("Capture disabled")
	return nil
}

// Refresh re-installs the chain when the set of local addresses changed.
func (c *IPTablesCapture) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}

	addresses, err := c.localAddresses()
	if err != nil {
		return fmt.Errorf("failed to get local addresses: %w", err)
	}

	if addressesEqual(c.addresses, addresses) {
		return nil
	}

	log.Infof("Local addresses changed, refreshing capture rules")
	c.addresses = addresses

	c.removeAll()
	if err := c.install(); err != nil {
		c.active = false
		c.removeAll()
		return errors.NewCaptureError("failed to refresh capture rules", err)
	}
	return nil
}

// Purge removes the capture chain whether or not this handle installed it.
// Used to clean up after a service that died without releasing.
func (c *IPTablesCapture) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	if err := c.removeAll(); err != nil {
		return errors.NewCaptureError("failed to remove capture rules", err)
	}
	return nil
}

func (c *IPTablesCapture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Commands returns the iptables commands the handle would run, for display.
func (c *IPTablesCapture) Commands(addresses []netip.Addr) []string {
	var cmds []string
	for _, ipt := range c.tables() {
		bin := "iptables"
		if ipt.Proto() == iptables.ProtocolIPv6 {
			bin = "ip6tables"
		}
		cmds = append(cmds, fmt.Sprintf("%s -t %s -N %s", bin, natTable, c.opts.Chain))
		for _, rule := range chainRules(c.opts, ipt.Proto(), addresses) {
			cmds = append(cmds, fmt.Sprintf("%s -t %s -A %s %s", bin, natTable, c.opts.Chain, strings.Join(rule, " ")))
		}
		for _, jump := range jumpRules(c.opts) {
			cmds = append(cmds, fmt.Sprintf("%s -t %s -I %s 1 %s", bin, natTable, jump.chain, strings.Join(jump.spec, " ")))
		}
		extra, _ := extraRules(c.opts)
		for _, rule := range extra {
			cmds = append(cmds, fmt.Sprintf("%s -t %s -A %s %s", bin, rule.Table, rule.Chain, strings.Join(rule.Rule, " ")))
		}
	}
	return cmds
}

func (c *IPTablesCapture) tables() []ipTables {
	tables := []ipTables{c.ipt4}
	if c.ipt6 != nil {
		tables = append(tables, c.ipt6)
	}
	return tables
}

func (c *IPTablesCapture) chainExists() bool {
	exists, err := c.ipt4.ChainExists(natTable, c.opts.Chain)
	if err != nil {
		log.Debugf("Failed to check chain %s: %v", c.opts.Chain, err)
		return false
	}
	return exists
}

func (c *IPTablesCapture) install() error {
	if err := c.createChainAndRules(c.ipt4); err != nil {
		return fmt.Errorf("IPv4: %w", err)
	}

	if c.ipt6 != nil {
		if err := c.createChainAndRules(c.ipt6); err != nil {
			// ip6tables without nat support is common on small routers
			log.Warnf("Failed to install IPv6 capture rules, IPv6 traffic will not be captured: %v", err)
			c.deleteChainAndRules(c.ipt6)
		}
	}

	return nil
}

func (c *IPTablesCapture) createChainAndRules(ipt ipTables) error {
	if err := ipt.NewChain(natTable, c.opts.Chain); err != nil {
		// Check if chain already exists
		if eerr, ok := err.(*iptables.Error); !(ok && eerr.ExitStatus() == 1) {
			return fmt.Errorf("failed to create chain: %w", err)
		}
	}

	for _, rule := range chainRules(c.opts, ipt.Proto(), c.addresses) {
		if err := ipt.AppendUnique(natTable, c.opts.Chain, rule...); err != nil {
			return fmt.Errorf("failed to add rule [%s]: %w", strings.Join(rule, " "), err)
		}
	}

	for _, jump := range jumpRules(c.opts) {
		if err := ipt.InsertUnique(natTable, jump.chain, 1, jump.spec...); err != nil {
			return fmt.Errorf("failed to link chain from %s: %w", jump.chain, err)
		}
	}

	extra, err := extraRules(c.opts)
	if err != nil {
		return err
	}
	for _, rule := range extra {
		log.Debugf("Adding iptables rule [%v]", rule)
		if err := ipt.AppendUnique(rule.Table, rule.Chain, rule.Rule...); err != nil {
			return fmt.Errorf("failed to add extra rule %s/%s: %w", rule.Table, rule.Chain, err)
		}
	}

	return nil
}

func (c *IPTablesCapture) removeAll() error {
	var errs []string

	for _, ipt := range c.tables() {
		if err := c.deleteChainAndRules(ipt); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %s", strings.Join(errs, "; "))
	}
	return nil
}

// deleteChainAndRules unlinks, clears and deletes the chain. Missing pieces are not errors.
func (c *IPTablesCapture) deleteChainAndRules(ipt ipTables) error {
	extra, _ := extraRules(c.opts)
	for _, rule := range extra {
		if err := ipt.DeleteIfExists(rule.Table, rule.Chain, rule.Rule...); err != nil {
			log.Debugf("Failed to delete extra rule %s/%s: %v", rule.Table, rule.Chain, err)
		}
	}

	for _, jump := range jumpRules(c.opts) {
		if err := ipt.DeleteIfExists(natTable, jump.chain, jump.spec...); err != nil {
			log.Debugf("Failed to unlink chain from %s: %v", jump.chain, err)
		}
	}

	exists, err := ipt.ChainExists(natTable, c.opts.Chain)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if err := ipt.ClearChain(natTable, c.opts.Chain); err != nil {
		return fmt.Errorf("failed to clear chain: %w", err)
	}
	if err := ipt.DeleteChain(natTable, c.opts.Chain); err != nil {
		return fmt.Errorf("failed to delete chain: %w", err)
	}
	return nil
}

// NoopCapture satisfies domain.CaptureHandle without touching the firewall.
// Used when traffic reaches the listeners by other means.
type NoopCapture struct {
	mu     sync.Mutex
	active bool
}

func (n *NoopCapture) Acquire(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active {
		return errors.NewCaptureError("capture handle is already held", nil)
	}
	n.active = true
	return nil
}

func (n *NoopCapture) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = false
	return nil
}

func (n *NoopCapture) Refresh() error {
	return nil
}

func (n *NoopCapture) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}
