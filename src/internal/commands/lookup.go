package commands

import (
	"flag"
	"fmt"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

func CreateLookupCommand() *LookupCommand {
	c := &LookupCommand{
		fs: flag.NewFlagSet("lookup", flag.ExitOnError),
	}
	c.fs.StringVar(&c.rulesFile, "rules", "", "Rules file to use instead of the configured one")
	return c
}

// LookupCommand prints what the rules decide for the given host names,
// without a running service.
type LookupCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config

	rulesFile string
	hosts     []string
}

func (c *LookupCommand) Name() string {
	return c.fs.Name()
}

func (c *LookupCommand) Init(args []string, ctx *AppContext) error {
	c.ctx = ctx

	if err := c.fs.Parse(args); err != nil {
		return err
	}
	c.hosts = c.fs.Args()
	if len(c.hosts) == 0 {
		return fmt.Errorf("usage: lookup [-rules file] <host> [host...]")
	}

	cfg, err := loadConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	return nil
}

func (c *LookupCommand) Run() error {
	set, _, _, err := loadRuleSet(c.cfg, c.rulesFile)
	if err != nil {
		return err
	}

	for _, host := range c.hosts {
		host = utils.NormalizeHost(host)
		fmt.Printf("%s: %s\n", host, domain.Decide(set, host))
	}
	return nil
}

// loadRuleSet reads the rule sources the service would use. override, when
// set, replaces both the configured and the persisted rules file.
func loadRuleSet(cfg *config.Config, override string) (*rules.RuleSet, *rules.LoadReport, string, error) {
	rulesPath := override
	if rulesPath == "" {
		rulesPath = cfg.GetAbsRulesFile()
		if state, err := config.LoadState(cfg.GetAbsStateFile()); err == nil && state.RulesPath != "" {
			rulesPath = state.RulesPath
		}
	}

	set, report, err := rules.Load(rules.Sources{
		RulesFile:   rulesPath,
		YAMLImports: cfg.GetAbsYAMLImports(),
		FilterLists: cfg.GetAbsFilterLists(),
	})
	return set, report, rulesPath, err
}
