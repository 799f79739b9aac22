package commands

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/lists"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

func CreateDownloadCommand() *DownloadCommand {
	gc := &DownloadCommand{
		fs: flag.NewFlagSet("download", flag.ExitOnError),
	}
	gc.fs.BoolVar(&gc.reload, "reload", false, "Ask the running service to reload rules when a list changed")
	return gc
}

// DownloadCommand fetches the remote lists into the lists directory.
type DownloadCommand struct {
	fs     *flag.FlagSet
	ctx    *AppContext
	cfg    *config.Config
	reload bool
}

func (g *DownloadCommand) Name() string {
	return g.fs.Name()
}

func (g *DownloadCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	g.cfg = cfg

	if g.reload && !cfg.API.Enable {
		return fmt.Errorf("-reload needs the control API, it is disabled in %s", ctx.ConfigPath)
	}

	return nil
}

func (g *DownloadCommand) Run() error {
	if len(g.cfg.General.RemoteLists) == 0 {
		log.Infof("No remote lists configured")
		return nil
	}

	log.Infof("Downloading %d remote lists into %s", len(g.cfg.General.RemoteLists), g.cfg.GetAbsListsDir())
	changed, err := lists.DownloadLists(g.cfg)
	if err != nil {
		log.Errorf("Some lists failed to download: %v", err)
	}
	log.Infof("%d lists changed", changed)

	if changed > 0 && g.reload {
		var resp api.ReloadResponse
		client := newAPIClient(g.cfg.API.GetBind())
		if rerr := client.do(http.MethodPost, "/rules/reload", nil, &resp); rerr != nil {
			return fmt.Errorf("failed to reload the running service: %w", rerr)
		}
		log.Infof("Service reloaded, %d rules active", resp.Rules)
	}

	return err
}
