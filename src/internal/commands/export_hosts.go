package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

const defaultHostsHeader = "# Generated by hosts-redirect {{version}} on {{date}}\n" +
	"# Source: {{source}} ({{count}} rules)\n"

func CreateExportHostsCommand() *ExportHostsCommand {
	c := &ExportHostsCommand{
		fs: flag.NewFlagSet("export-hosts", flag.ExitOnError),
	}
	c.fs.StringVar(&c.output, "o", "", "Output file (default: stdout)")
	c.fs.StringVar(&c.rulesFile, "rules", "", "Rules file to use instead of the configured one")
	c.fs.StringVar(&c.header, "header", defaultHostsHeader, "Header template ({{version}}, {{date}}, {{source}}, {{count}})")
	return c
}

// ExportHostsCommand writes the exact rules as a hosts file so that clients
// that are not captured can use them directly.
type ExportHostsCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config

	output    string
	rulesFile string
	header    string
}

func (c *ExportHostsCommand) Name() string {
	return c.fs.Name()
}

func (c *ExportHostsCommand) Init(args []string, ctx *AppContext) error {
	c.ctx = ctx

	if err := c.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	return nil
}

func (c *ExportHostsCommand) Run() error {
	// keep stdout clean for the hosts file
	log.SetForceStdErr(true)

	set, _, rulesPath, err := loadRuleSet(c.cfg, c.rulesFile)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if c.output != "" {
		f, err := os.Create(c.output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.output, err)
		}
		defer f.Close()
		out = f
	}

	stats, err := writeHostsFile(out, set, c.header, rulesPath, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}

	log.Infof("Exported %d rules, %d wildcard rules skipped", stats.Written, stats.Skipped)
	return nil
}

// writeHostsFile renders the header template and the rules.
func writeHostsFile(w io.Writer, set *rules.RuleSet, header, source string, now time.Time) (rules.ExportStats, error) {
	if header != "" {
		t, err := fasttemplate.NewTemplate(header, "{{", "}}")
		if err != nil {
			return rules.ExportStats{}, fmt.Errorf("invalid header template: %w", err)
		}
		text := t.ExecuteString(map[string]interface{}{
			"version": api.Version,
			"date":    now.Format(time.RFC3339),
			"source":  source,
			"count":   fmt.Sprint(set.Len()),
		})
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		if _, err := io.WriteString(w, text); err != nil {
			return rules.ExportStats{}, err
		}
	}

	return rules.ExportHosts(w, set)
}
