package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

const (
	DefaultChain           = "HOSTS_REDIRECT"
	DefaultDNSPort         = 15353
	DefaultRouterPort      = 15380
	DefaultAnswerTTL       = 60
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultGraceTimeout    = 5 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultSniffTimeout    = 2 * time.Second
	DefaultQueryTimeout    = 5 * time.Second
	DefaultRouteMark       = 0x1e1
	DefaultAPIBind         = "127.0.0.1:12121"
	DefaultStateFile       = "state.toml"
	DefaultMonitorDebounce = 2 * time.Second
	DefaultListsDir        = "lists.d"
)

var (
	DefaultUpstreams    = []string{"udp://1.1.1.1:53", "udp://8.8.8.8:53"}
	DefaultCapturePorts = []uint16{80, 443}
)

type ListFormat string

const (
	ListFormatFilter ListFormat = "filter"
	ListFormatYAML   ListFormat = "yaml"
)

type BlockMode string

const (
	BlockModeNullIP   BlockMode = "null_ip"
	BlockModeRefused  BlockMode = "refused"
	BlockModeNXDomain BlockMode = "nxdomain"
)

type Config struct {
	// General holds rule sources and state file location.
	General *GeneralConfig `toml:"general"`
	// DNS holds DNS interceptor settings.
	DNS *DNSConfig `toml:"dns"`
	// Router holds transparent session router settings.
	Router *RouterConfig `toml:"router"`
	// Capture holds iptables capture settings.
	Capture *CaptureConfig `toml:"capture"`
	// API holds control API settings.
	API *APIConfig `toml:"api"`

	_absConfigFilePath string
}

type GeneralConfig struct {
	// RulesFile is the host rules file (pattern target per line, hosts-file order also accepted).
	RulesFile string `toml:"rules_file" json:"rules_file" validate:"required"`
	// StateFile persists the enabled flag and rules path (default: state.toml next to config).
	StateFile string `toml:"state_file" json:"state_file"`
	// YAMLImports are additional rewrite files in {domain, answer} list format.
	YAMLImports []string `toml:"yaml_imports,omitempty" json:"yaml_imports,omitempty" validate:"dive,required"`
	// FilterLists are adblock-syntax lists (||host^, @@||host^) consulted when no host rule matches.
	FilterLists []string `toml:"filter_lists,omitempty" json:"filter_lists,omitempty" validate:"dive,required"`
	// NetworkMonitor re-installs capture rules when local addresses or links change.
	NetworkMonitor bool `toml:"network_monitor" json:"network_monitor"`
	// RemoteLists are downloaded into ListsDir and read like local filter lists or YAML imports.
	RemoteLists []*RemoteList `toml:"remote_list,omitempty" json:"remote_list,omitempty" validate:"dive"`
	// ListsDir holds downloaded remote lists (default: lists.d next to config).
	ListsDir string `toml:"lists_dir" json:"lists_dir"`
}

type RemoteList struct {
	Name   string     `toml:"name" json:"name" validate:"required,excludesall=/"`
	URL    string     `toml:"url" json:"url" validate:"required,url"`
	Format ListFormat `toml:"format" json:"format" validate:"omitempty,oneof=filter yaml"`
}

func (l *RemoteList) GetFormat() ListFormat {
	if l.Format == "" {
		return ListFormatFilter
	}
	return l.Format
}

type DNSConfig struct {
	// ListenAddr is the DNS interceptor listen address (default: [::]).
	ListenAddr string `toml:"listen_addr" json:"listen_addr" validate:"ip_or_empty"`
	// ListenPort is the DNS interceptor port (default: 15353).
	ListenPort uint16 `toml:"listen_port" json:"listen_port"`
	// Upstreams receive pass-through queries. Supported: udp://ip:port, tcp://ip:port, doh://host/path.
	Upstreams []string `toml:"upstreams" json:"upstreams" validate:"dive,upstream_url"`
	// AnswerTTL is the TTL of synthesized answers in seconds (default: 60).
	AnswerTTL uint32 `toml:"answer_ttl" json:"answer_ttl" validate:"max=86400"`
	// BlockMode selects the answer for blocked hosts: null_ip, refused or nxdomain (default: null_ip).
	BlockMode BlockMode `toml:"block_mode" json:"block_mode" validate:"omitempty,oneof=null_ip refused nxdomain"`
	// QueryTimeoutSec bounds a single upstream exchange (default: 5).
	QueryTimeoutSec int `toml:"query_timeout_sec" json:"query_timeout_sec" validate:"min=0"`
}

type RouterConfig struct {
	// ListenAddr is the session router listen address (default: [::]).
	ListenAddr string `toml:"listen_addr" json:"listen_addr" validate:"ip_or_empty"`
	// ListenPort is the session router port (default: 15380).
	ListenPort uint16 `toml:"listen_port" json:"listen_port"`
	// CapturePorts are TCP destination ports redirected to the router (default: [80, 443]).
	CapturePorts []uint16 `toml:"capture_ports" json:"capture_ports" validate:"port_list"`
	// IdleTimeoutSec closes sessions without traffic in either direction (default: 300).
	IdleTimeoutSec int `toml:"idle_timeout_sec" json:"idle_timeout_sec" validate:"min=0"`
	// GraceTimeoutSec is how long Stop waits for sessions before force-closing them (default: 5).
	GraceTimeoutSec int `toml:"grace_timeout_sec" json:"grace_timeout_sec" validate:"min=0"`
	// DialTimeoutSec bounds upstream connection attempts (default: 10).
	DialTimeoutSec int `toml:"dial_timeout_sec" json:"dial_timeout_sec" validate:"min=0"`
	// SniffTimeoutMs bounds waiting for the TLS ClientHello or HTTP request head (default: 2000).
	SniffTimeoutMs int `toml:"sniff_timeout_ms" json:"sniff_timeout_ms" validate:"min=0"`
	// RouteMark is set on outbound sockets so capture rules skip them (default: 0x1e1).
	RouteMark uint32 `toml:"route_mark" json:"route_mark"`
}

type CaptureConfig struct {
	// Enable installs iptables REDIRECT rules. When false only the listeners run.
	Enable bool `toml:"enable" json:"enable"`
	// Chain is the dedicated nat chain name (default: HOSTS_REDIRECT).
	Chain string `toml:"chain" json:"chain" validate:"omitempty,chain_name"`
	// Interfaces limits PREROUTING capture to these inbound interfaces (empty: all).
	Interfaces []string `toml:"interfaces" json:"interfaces"`
	// CaptureOutput also captures locally originated traffic via the OUTPUT chain.
	CaptureOutput bool `toml:"capture_output" json:"capture_output"`
	// IPTablesRules are extra rules. Available variables: {{dns_port}}, {{router_port}}, {{chain}}, {{mark}}.
	IPTablesRules []*IPTablesRule `toml:"iptables_rule,omitempty" json:"iptables_rule,omitempty" validate:"dive"`
}

type IPTablesRule struct {
	Chain string   `toml:"chain" json:"chain" validate:"required"`
	Table string   `toml:"table" json:"table" validate:"required"`
	Rule  []string `toml:"rule" json:"rule" validate:"required,min=1"`
}

type APIConfig struct {
	// Enable starts the REST control API.
	Enable bool `toml:"enable" json:"enable"`
	// Bind is the API listen address (default: 127.0.0.1:12121).
	Bind string `toml:"bind" json:"bind" validate:"hostport_or_empty"`
}

func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

func (c *Config) GetConfigPath() string {
	return c._absConfigFilePath
}

func (c *Config) GetAbsRulesFile() string {
	return utils.GetAbsolutePath(c.General.RulesFile, c.GetConfigDir())
}

func (c *Config) GetAbsStateFile() string {
	if c.General.StateFile == "" {
		return filepath.Join(c.GetConfigDir(), DefaultStateFile)
	}
	return utils.GetAbsolutePath(c.General.StateFile, c.GetConfigDir())
}

// GetAbsYAMLImports returns the YAML imports followed by downloaded YAML remote lists.
func (c *Config) GetAbsYAMLImports() []string {
	return append(c.absPaths(c.General.YAMLImports), c.downloadedLists(ListFormatYAML)...)
}

// GetAbsFilterLists returns the filter lists followed by downloaded filter remote lists.
func (c *Config) GetAbsFilterLists() []string {
	return append(c.absPaths(c.General.FilterLists), c.downloadedLists(ListFormatFilter)...)
}

func (c *Config) GetAbsListsDir() string {
	if c.General.ListsDir == "" {
		return filepath.Join(c.GetConfigDir(), DefaultListsDir)
	}
	return utils.GetAbsolutePath(c.General.ListsDir, c.GetConfigDir())
}

// GetAbsolutePath is where the list is stored after download.
func (l *RemoteList) GetAbsolutePath(c *Config) string {
	ext := ".txt"
	if l.GetFormat() == ListFormatYAML {
		ext = ".yaml"
	}
	return filepath.Join(c.GetAbsListsDir(), l.Name+ext)
}

// downloadedLists skips remote lists that were never downloaded, so a fresh
// install still loads its local rules.
func (c *Config) downloadedLists(format ListFormat) []string {
	var paths []string
	for _, list := range c.General.RemoteLists {
		if list.GetFormat() != format {
			continue
		}
		path := list.GetAbsolutePath(c)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (c *Config) absPaths(paths []string) []string {
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		result = append(result, utils.GetAbsolutePath(p, c.GetConfigDir()))
	}
	return result
}

func (c *DNSConfig) GetListenAddr() string {
	return listenHost(c.ListenAddr)
}

func (c *DNSConfig) GetListenPort() uint16 {
	if c.ListenPort == 0 {
		return DefaultDNSPort
	}
	return c.ListenPort
}

func (c *DNSConfig) GetUpstreams() []string {
	if len(c.Upstreams) == 0 {
		return DefaultUpstreams
	}
	return c.Upstreams
}

func (c *DNSConfig) GetAnswerTTL() uint32 {
	if c.AnswerTTL == 0 {
		return DefaultAnswerTTL
	}
	return c.AnswerTTL
}

func (c *DNSConfig) GetBlockMode() BlockMode {
	if c.BlockMode == "" {
		return BlockModeNullIP
	}
	return c.BlockMode
}

func (c *DNSConfig) GetQueryTimeout() time.Duration {
	return secondsOr(c.QueryTimeoutSec, DefaultQueryTimeout)
}

func (c *RouterConfig) GetListenAddr() string {
	return listenHost(c.ListenAddr)
}

func (c *RouterConfig) GetListenPort() uint16 {
	if c.ListenPort == 0 {
		return DefaultRouterPort
	}
	return c.ListenPort
}

func (c *RouterConfig) GetCapturePorts() []uint16 {
	if len(c.CapturePorts) == 0 {
		return DefaultCapturePorts
	}
	return c.CapturePorts
}

func (c *RouterConfig) GetIdleTimeout() time.Duration {
	return secondsOr(c.IdleTimeoutSec, DefaultIdleTimeout)
}

func (c *RouterConfig) GetGraceTimeout() time.Duration {
	return secondsOr(c.GraceTimeoutSec, DefaultGraceTimeout)
}

func (c *RouterConfig) GetDialTimeout() time.Duration {
	return secondsOr(c.DialTimeoutSec, DefaultDialTimeout)
}

func (c *RouterConfig) GetSniffTimeout() time.Duration {
	if c.SniffTimeoutMs <= 0 {
		return DefaultSniffTimeout
	}
	return time.Duration(c.SniffTimeoutMs) * time.Millisecond
}

func (c *RouterConfig) GetRouteMark() uint32 {
	if c.RouteMark == 0 {
		return DefaultRouteMark
	}
	return c.RouteMark
}

func (c *CaptureConfig) GetChain() string {
	if c.Chain == "" {
		return DefaultChain
	}
	return c.Chain
}

func (c *APIConfig) GetBind() string {
	if c.Bind == "" {
		return DefaultAPIBind
	}
	return c.Bind
}

// listenHost converts the bracketed config form ("[::1]") into a bare host.
func listenHost(addr string) string {
	if addr == "" {
		return "::"
	}
	if len(addr) > 2 && addr[0] == '[' && addr[len(addr)-1] == ']' {
		return addr[1 : len(addr)-1]
	}
	return addr
}

func secondsOr(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
