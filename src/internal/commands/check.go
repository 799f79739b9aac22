package commands

import (
	"flag"
	"fmt"
	"os"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/lists"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
)

func CreateCheckCommand() *CheckCommand {
	c := &CheckCommand{
		fs: flag.NewFlagSet("check", flag.ExitOnError),
	}
	c.fs.BoolVar(&c.printConfig, "print-config", false, "Print the parsed configuration")
	return c
}

// CheckCommand validates everything the service needs before it is started.
type CheckCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config

	printConfig bool
}

func (g *CheckCommand) Name() string {
	return g.fs.Name()
}

func (g *CheckCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	g.cfg = cfg

	return nil
}

func (g *CheckCommand) Run() error {
	log.Infof("Running check...")

	if g.printConfig {
		log.Infof("---------------- Configuration START -----------------")
		if buf, err := g.cfg.SerializeConfig(); err != nil {
			log.Errorf("Failed to serialize config: %v", err)
		} else {
			os.Stdout.Write(buf.Bytes())
		}
		log.Infof("----------------- Configuration END ------------------")
	}

	failures := 0
	check := func(name string, err error) {
		if err != nil {
			log.Errorf("[FAIL] %s: %v", name, err)
			failures++
			return
		}
		log.Infof("[ OK ] %s", name)
	}

	check("configuration", g.cfg.ValidateConfig())
	check("rule sources", g.checkRules())
	for _, list := range lists.MissingLists(g.cfg) {
		log.Warnf("[WARN] remote list %q is not downloaded yet, run \"download\"", list.Name)
	}

	opts := networking.CaptureOptionsFromConfig(g.cfg)
	check("capture rule templates", opts.Validate())

	if g.cfg.Capture.Enable {
		check("capture interfaces", networking.CheckInterfaces(g.cfg.Capture.Interfaces))
		g.printCaptureCommands(opts)
	} else {
		log.Infof("Capture is disabled, traffic must reach the listeners by other means")
	}

	if failures > 0 {
		return fmt.Errorf("check found %d problem(s)", failures)
	}
	log.Infof("Check passed")
	return nil
}

// checkRules loads every rule source and reports skipped lines. Skipped lines
// are warnings, an unreadable source is a failure.
func (g *CheckCommand) checkRules() error {
	set, report, rulesPath, err := loadRuleSet(g.cfg, "")
	if err != nil {
		return err
	}

	log.Infof("Rules: %d loaded, %d skipped, %d duplicates, %d filter rules (from %s)",
		report.Loaded, report.Skipped, report.Duplicates, set.FilterRules(), rulesPath)
	for _, perr := range report.Errors {
		log.Warnf("  %v", perr)
	}

	if set.Len()+set.FilterRules() == 0 {
		log.Warnf("No rules loaded, every host will pass through")
	}
	return nil
}

func (g *CheckCommand) printCaptureCommands(opts networking.CaptureOptions) {
	capture, err := networking.NewIPTablesCapture(opts)
	if err != nil {
		log.Warnf("Cannot show capture rules: %v", err)
		return
	}

	addresses, err := networking.LocalAddresses()
	if err != nil {
		log.Warnf("Failed to get local addresses: %v", err)
	}

	log.Infof("Capture rules that will be installed:")
	for _, cmd := range capture.Commands(addresses) {
		fmt.Println("  " + cmd)
	}
}
