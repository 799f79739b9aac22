package networking

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
)

// Mock types for testing

type mockNetlinkLink struct {
	name     string
	up       bool
	loopback bool
	index    int
}

func (m *mockNetlinkLink) Attrs() *netlink.LinkAttrs {
	flags := net.Flags(0)
	if m.up {
		flags |= net.FlagUp
	}
	if m.loopback {
		flags |= net.FlagLoopback
	}
	return &netlink.LinkAttrs{
		Name:  m.name,
		Index: m.index,
		Flags: flags,
	}
}

func (m *mockNetlinkLink) Type() string { return "mock" }

// mockIPTables keeps tables in memory. Keys are "table/chain".
type mockIPTables struct {
	mu     sync.Mutex
	proto  iptables.Protocol
	chains map[string][]string
	// failAppend makes AppendUnique fail for rules containing this text
	failAppend string
}

func newMockIPTables(proto iptables.Protocol) *mockIPTables {
	return &mockIPTables{
		proto: proto,
		chains: map[string][]string{
			"nat/PREROUTING": nil,
			"nat/OUTPUT":     nil,
			"filter/INPUT":   nil,
		},
	}
}

func (m *mockIPTables) Proto() iptables.Protocol { return m.proto }

func (m *mockIPTables) NewChain(table, chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + chain
	if _, ok := m.chains[key]; ok {
		return fmt.Errorf("chain %s already exists", key)
	}
	m.chains[key] = nil
	return nil
}

func (m *mockIPTables) ClearChain(table, chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[table+"/"+chain] = nil
	return nil
}

func (m *mockIPTables) DeleteChain(table, chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + chain
	if len(m.chains[key]) > 0 {
		return fmt.Errorf("chain %s is not empty", key)
	}
	delete(m.chains, key)
	return nil
}

func (m *mockIPTables) ChainExists(table, chain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chains[table+"/"+chain]
	return ok, nil
}

func (m *mockIPTables) AppendUnique(table, chain string, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + chain
	rules, ok := m.chains[key]
	if !ok {
		return fmt.Errorf("no chain %s", key)
	}
	rule := strings.Join(rulespec, " ")
	if m.failAppend != "" && strings.Contains(rule, m.failAppend) {
		return fmt.Errorf("append rejected: %s", rule)
	}
	for _, r := range rules {
		if r == rule {
			return nil
		}
	}
	m.chains[key] = append(rules, rule)
	return nil
}

func (m *mockIPTables) InsertUnique(table, chain string, pos int, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + chain
	rules, ok := m.chains[key]
	if !ok {
		return fmt.Errorf("no chain %s", key)
	}
	rule := strings.Join(rulespec, " ")
	for _, r := range rules {
		if r == rule {
			return nil
		}
	}
	m.chains[key] = append([]string{rule}, rules...)
	return nil
}

func (m *mockIPTables) DeleteIfExists(table, chain string, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + chain
	rule := strings.Join(rulespec, " ")
	rules := m.chains[key]
	for i, r := range rules {
		if r == rule {
			m.chains[key] = append(rules[:i:i], rules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockIPTables) rules(table, chain string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.chains[table+"/"+chain]...)
}
