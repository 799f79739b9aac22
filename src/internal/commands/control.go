package commands

import (
	"flag"
	"fmt"
	"net/http"
	"strings"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
)

// controlAction is a subcommand that drives a running service.
type controlAction struct {
	name  string
	usage string
	run   func(c *ControlCommand) error
}

var controlActions = []controlAction{
	{"start", "Start interception in the running service", func(c *ControlCommand) error { return c.setState("started") }},
	{"stop", "Stop interception in the running service", func(c *ControlCommand) error { return c.setState("stopped") }},
	{"restart", "Restart interception in the running service", func(c *ControlCommand) error { return c.setState("restarted") }},
	{"reload", "Reload rules in the running service", (*ControlCommand).reload},
	{"status", "Show status of the running service", (*ControlCommand).status},
}

// CreateControlCommands returns one command per control action.
func CreateControlCommands() []Runner {
	runners := make([]Runner, 0, len(controlActions))
	for _, action := range controlActions {
		runners = append(runners, newControlCommand(action))
	}
	return runners
}

func newControlCommand(action controlAction) *ControlCommand {
	c := &ControlCommand{
		action: action,
		fs:     flag.NewFlagSet(action.name, flag.ExitOnError),
	}
	c.fs.StringVar(&c.apiAddr, "api", "", "API address (default: [api] bind from config)")
	if action.name == "reload" {
		c.fs.StringVar(&c.rulesPath, "rules", "", "Switch the service to this rules file")
	}
	return c
}

// ControlCommand calls the control API of a running service.
type ControlCommand struct {
	action controlAction
	fs     *flag.FlagSet
	ctx    *AppContext
	client *apiClient

	apiAddr   string
	rulesPath string
}

func (c *ControlCommand) Name() string {
	return c.fs.Name()
}

func (c *ControlCommand) Init(args []string, ctx *AppContext) error {
	c.ctx = ctx

	if err := c.fs.Parse(args); err != nil {
		return err
	}

	addr := c.apiAddr
	if addr == "" {
		cfg, err := loadConfigOrFail(ctx.ConfigPath)
		if err != nil {
			return err
		}
		if !cfg.API.Enable {
			return fmt.Errorf("control API is disabled in %s", ctx.ConfigPath)
		}
		addr = cfg.API.GetBind()
	}
	c.client = newAPIClient(addr)

	return nil
}

func (c *ControlCommand) Run() error {
	return c.action.run(c)
}

func (c *ControlCommand) setState(state string) error {
	var resp api.ServiceControlResponse
	if err := c.client.do(http.MethodPost, "/service", api.ServiceControlRequest{State: state}, &resp); err != nil {
		return err
	}
	fmt.Printf("%s (interceptor %s)\n", resp.Message, resp.Service.State)
	return nil
}

func (c *ControlCommand) reload() error {
	var body interface{}
	if c.rulesPath != "" {
		body = api.ReloadRequest{RulesPath: c.rulesPath}
	}

	var resp api.ReloadResponse
	if err := c.client.do(http.MethodPost, "/rules/reload", body, &resp); err != nil {
		return err
	}

	fmt.Printf("Rules reloaded: %d active\n", resp.Rules)
	if resp.Report != nil {
		fmt.Printf("  %d loaded, %d skipped, %d duplicates\n", resp.Report.Loaded, resp.Report.Skipped, resp.Report.Duplicates)
		for _, perr := range resp.Report.Errors {
			fmt.Printf("  skipped %v\n", perr)
		}
	}
	return nil
}

func (c *ControlCommand) status() error {
	var resp api.StatusResponse
	if err := c.client.do(http.MethodGet, "/status", nil, &resp); err != nil {
		return err
	}
	fmt.Print(formatStatus(resp))
	return nil
}

// formatStatus renders a status response for the terminal.
func formatStatus(resp api.StatusResponse) string {
	var b strings.Builder
	s := resp.Service

	fmt.Fprintf(&b, "hosts-redirect %s (commit %s, built %s)\n", resp.Version.Version, resp.Version.Commit, resp.Version.Date)
	fmt.Fprintf(&b, "Interceptor:  %s (enabled: %v, capture active: %v)\n", s.State, s.Enabled, s.CaptureActive)
	if s.StartedAt != nil {
		fmt.Fprintf(&b, "Started at:   %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "Rules:        %d host rules, %d filter rules from %s\n", s.Rules, s.FilterRules, s.RulesPath)
	if s.LoadReport != nil && s.LoadReport.Skipped > 0 {
		fmt.Fprintf(&b, "              %d lines skipped\n", s.LoadReport.Skipped)
	}
	if s.ConfigChanged {
		fmt.Fprintf(&b, "              configuration changed on disk, run reload\n")
	}
	fmt.Fprintf(&b, "Sessions:     %d active, %d total\n", s.Sessions, s.TotalSessions)
	if s.DNS != nil {
		fmt.Fprintf(&b, "DNS:          %d queries (%d redirected, %d blocked, %d passthrough, %d failed) via %s\n",
			s.DNS.Queries, s.DNS.Redirected, s.DNS.Blocked, s.DNS.Passthrough, s.DNS.Failed, s.Upstream)
	}
	if s.Router != nil {
		fmt.Fprintf(&b, "Router:       %d accepted (%d redirected, %d blocked, %d passthrough, %d failed)\n",
			s.Router.Accepted, s.Router.Redirected, s.Router.Blocked, s.Router.Passthrough, s.Router.Failed)
	}
	if p := resp.Process; p != nil {
		fmt.Fprintf(&b, "Process:      pid %d, rss %.1f MiB, cpu %.1f%%, up %ds\n",
			p.PID, float64(p.RSSBytes)/(1<<20), p.CPUPercent, p.UptimeSeconds)
	}
	return b.String()
}
