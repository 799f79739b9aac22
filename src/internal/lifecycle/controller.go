// Package lifecycle runs the interceptor as a service: it owns the rule
// store, the persisted state and the single interceptor instance, and
// reacts to reloads, toggles and network changes.
package lifecycle

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/dnsproxy"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/interceptor"
	"github.com/maksimkurb/hosts-redirect/src/internal/lists"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
	"github.com/maksimkurb/hosts-redirect/src/internal/router"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

// stopMargin is added to the router grace timeout when bounding a stop.
const stopMargin = 5 * time.Second

// Status is a point-in-time view of the service.
type Status struct {
	State         interceptor.State `json:"state"`
	Enabled       bool              `json:"enabled"`
	CaptureActive bool              `json:"capture_active"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	RulesPath     string            `json:"rules_path"`
	Rules         int               `json:"rules"`
	FilterRules   int               `json:"filter_rules"`
	LoadedAt      time.Time         `json:"loaded_at"`
	LoadReport    *rules.LoadReport `json:"load_report,omitempty"`
	Sessions      int               `json:"sessions"`
	TotalSessions uint64            `json:"total_sessions"`
	DNS           *dnsproxy.Stats   `json:"dns,omitempty"`
	Router        *router.Stats     `json:"router,omitempty"`
	Upstream      string            `json:"upstream,omitempty"`
	ConfigChanged bool              `json:"config_changed"`
}

// Controller serializes every lifecycle operation of the service.
type Controller struct {
	mu sync.Mutex

	cfg         *config.Config
	state       *config.State
	statePath   string
	deps        *Dependencies
	hasher      *config.ConfigHasher
	interceptor *interceptor.Interceptor

	listenersMu sync.RWMutex
	proxy       *dnsproxy.DNSProxy
	router      *router.Router
	startedAt   time.Time
}

// NewController loads the persisted state and the initial rule snapshot.
// An unreadable rules file is an error here; later reloads keep the old snapshot instead.
func NewController(cfg *config.Config, deps *Dependencies) (*Controller, error) {
	statePath := cfg.GetAbsStateFile()
	state, err := config.LoadState(statePath)
	if err != nil {
		return nil, errors.NewConfigError("failed to load state", err)
	}

	c := &Controller{
		cfg:       cfg,
		state:     state,
		statePath: statePath,
		deps:      deps,
		hasher:    config.NewConfigHasher(cfg.GetConfigPath()),
	}
	c.hasher.SetRulesPath(state.RulesPath)
	c.interceptor = interceptor.New(deps.Capture(), c.newListeners)

	if _, err := c.reloadRules(c.rulesPath()); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Controller) rulesPath() string {
	if c.state.RulesPath != "" {
		return c.state.RulesPath
	}
	return c.cfg.GetAbsRulesFile()
}

func (c *Controller) sources(rulesPath string) rules.Sources {
	return rules.Sources{
		RulesFile:   rulesPath,
		YAMLImports: c.cfg.GetAbsYAMLImports(),
		FilterLists: c.cfg.GetAbsFilterLists(),
	}
}

// reloadRules swaps in a snapshot read from rulesPath and records the
// config fingerprint it corresponds to.
func (c *Controller) reloadRules(rulesPath string) (*rules.LoadReport, error) {
	report, err := c.deps.Store().Reload(c.sources(rulesPath))
	if err != nil {
		return nil, err
	}

	if hash, err := c.hasher.CalculateHash(c.cfg, rulesPath); err != nil {
		log.Warnf("Failed to calculate config hash: %v", err)
	} else {
		c.hasher.SetActiveConfigHash(hash)
	}
	return report, nil
}

// newListeners builds a DNS proxy and a session router for one start.
func (c *Controller) newListeners() (*interceptor.Listeners, error) {
	proxy, err := dnsproxy.NewDNSProxy(dnsproxy.ProxyConfigFromAppConfig(c.cfg), c.deps.Store(), c.deps.Sessions(), c.deps.AddressBook())
	if err != nil {
		return nil, errors.NewConfigError("failed to create DNS proxy", err)
	}
	r := router.New(router.ConfigFromAppConfig(c.cfg), c.deps.Store(), c.deps.AddressBook(), c.deps.Sessions())

	c.listenersMu.Lock()
	c.proxy = proxy
	c.router = r
	c.listenersMu.Unlock()

	return &interceptor.Listeners{DNS: proxy, Router: r}, nil
}

func (c *Controller) clearListeners() {
	c.listenersMu.Lock()
	c.proxy = nil
	c.router = nil
	c.startedAt = time.Time{}
	c.listenersMu.Unlock()
}

// Boot starts the interceptor when the persisted state says so and runs
// the network monitor until ctx is done. A failed start is logged and the
// service keeps running so it can be fixed and started through the API.
func (c *Controller) Boot(ctx context.Context) {
	if len(c.cfg.General.RemoteLists) > 0 {
		changed, err := lists.DownloadMissingLists(c.cfg)
		if err != nil {
			log.Warnf("Some remote lists could not be downloaded, they are skipped until the next download: %v", err)
		}
		if changed > 0 {
			if _, err := c.Reload(); err != nil {
				log.Errorf("Failed to load downloaded lists: %v", err)
			}
		}
	}

	if c.Enabled() {
		if err := c.Start(); err != nil {
			log.Errorf("Failed to start interceptor: %v", err)
			log.Warnf("Service will continue without interception. Fix the problem and start it again.")
		}
	} else {
		log.Infof("Interception is disabled by the state file %s", c.statePath)
	}

	if c.cfg.General.NetworkMonitor {
		monitor := networking.NewMonitor(config.DefaultMonitorDebounce, func() {
			if err := c.Refresh(); err != nil {
				log.Errorf("Failed to refresh capture: %v", err)
			}
		})
		go monitor.Run(ctx)
	}
}

// Shutdown stops the interceptor if it runs.
func (c *Controller) Shutdown() error {
	err := c.Stop()
	if stderrors.Is(err, interceptor.ErrInvalidState) {
		return nil
	}
	return err
}

func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start()
}

func (c *Controller) start() error {
	if err := c.interceptor.Start(context.Background()); err != nil {
		if !stderrors.Is(err, interceptor.ErrInvalidState) {
			c.clearListeners()
		}
		return err
	}

	c.listenersMu.Lock()
	c.startedAt = time.Now()
	c.listenersMu.Unlock()
	return nil
}

func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop()
}

func (c *Controller) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Router.GetGraceTimeout()+stopMargin)
	defer cancel()

	err := c.interceptor.Stop(ctx)
	if !stderrors.Is(err, interceptor.ErrInvalidState) {
		c.clearListeners()
	}
	return err
}

// Restart stops the interceptor if it runs and starts it again.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stop(); err != nil && !stderrors.Is(err, interceptor.ErrInvalidState) {
		log.Errorf("Failed to stop interceptor: %v", err)
	}
	return c.start()
}

// SetEnabled persists the toggle and starts or stops the interceptor to match it.
func (c *Controller) SetEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Enabled != enabled {
		c.state.Enabled = enabled
		if err := c.state.Save(c.statePath); err != nil {
			return errors.NewInternalError("failed to save state", err)
		}
	}

	var err error
	if enabled {
		err = c.start()
	} else {
		err = c.stop()
	}
	if stderrors.Is(err, interceptor.ErrInvalidState) {
		// already there
		return nil
	}
	return err
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Enabled
}

// Reload re-reads the rule sources and swaps the snapshot without touching
// the capture. A failed read keeps the current snapshot.
func (c *Controller) Reload() (*rules.LoadReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report, err := c.reloadRules(c.rulesPath())
	if err != nil {
		log.Errorf("Failed to reload rules, keeping the current snapshot: %v", err)
		return nil, err
	}
	return report, nil
}

// SetRulesPath switches to another rules file. The path is persisted only
// when the file loads.
func (c *Controller) SetRulesPath(path string) (*rules.LoadReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report, err := c.reloadRules(path)
	if err != nil {
		return nil, err
	}

	c.state.RulesPath = path
	c.hasher.SetRulesPath(path)
	if err := c.state.Save(c.statePath); err != nil {
		return report, errors.NewInternalError("failed to save state", err)
	}
	return report, nil
}

// ListsDownload is the outcome of a remote list download.
type ListsDownload struct {
	Changed int               `json:"changed"`
	Failed  []string          `json:"failed,omitempty"`
	Report  *rules.LoadReport `json:"report,omitempty"`
}

// DownloadLists fetches all remote lists and reloads the rules when any of
// them changed. Failed downloads keep their previous copy and are reported,
// only a failed reload is returned as an error.
func (c *Controller) DownloadLists() (*ListsDownload, error) {
	changed, dlErr := lists.DownloadLists(c.cfg)
	result := &ListsDownload{Changed: changed}
	if dlErr != nil {
		result.Failed = strings.Split(dlErr.Error(), "\n")
	}
	if changed == 0 {
		return result, nil
	}

	report, err := c.Reload()
	if err != nil {
		return result, err
	}
	result.Report = report
	return result, nil
}

// Refresh re-installs the capture rules after a network change.
func (c *Controller) Refresh() error {
	return c.interceptor.Refresh()
}

// Rules returns the current snapshot.
func (c *Controller) Rules() *rules.RuleSet {
	return c.deps.Store().Current()
}

// Lookup returns the decision the interceptor would make for host right now.
func (c *Controller) Lookup(host string) domain.Decision {
	return domain.Decide(c.deps.Store().Current(), host)
}

// Sessions returns every live DNS and TCP session.
func (c *Controller) Sessions() []domain.SessionInfo {
	return c.deps.Sessions().List()
}

// DNSProxy returns the running DNS proxy, or nil when the interceptor is stopped.
func (c *Controller) DNSProxy() *dnsproxy.DNSProxy {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return c.proxy
}

func (c *Controller) State() interceptor.State {
	return c.interceptor.State()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	enabled := c.state.Enabled
	rulesPath := c.rulesPath()
	c.mu.Unlock()

	set := c.deps.Store().Current()
	status := Status{
		State:         c.interceptor.State(),
		Enabled:       enabled,
		CaptureActive: c.deps.Capture().Active(),
		RulesPath:     rulesPath,
		Rules:         set.Len(),
		FilterRules:   set.FilterRules(),
		LoadedAt:      set.LoadedAt(),
		LoadReport:    set.Report(),
		Sessions:      c.deps.Sessions().Len(),
		TotalSessions: c.deps.Sessions().Total(),
	}

	c.listenersMu.RLock()
	if c.proxy != nil {
		stats := c.proxy.GetStats()
		status.DNS = &stats
		status.Upstream = c.proxy.Upstream()
	}
	if c.router != nil {
		stats := c.router.GetStats()
		status.Router = &stats
	}
	if !c.startedAt.IsZero() {
		startedAt := c.startedAt
		status.StartedAt = &startedAt
	}
	c.listenersMu.RUnlock()

	if changed, err := c.hasher.IsConfigChanged(); err != nil {
		log.Debugf("Failed to check config changes: %v", err)
	} else {
		status.ConfigChanged = changed
	}

	return status
}
