package commands

import (
	"flag"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/lifecycle"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
)

func CreateUndoCommand() *UndoCommand {
	return &UndoCommand{
		fs: flag.NewFlagSet("undo-capture", flag.ExitOnError),
	}
}

// UndoCommand removes capture rules left behind by a service that was killed
// before it could release them.
type UndoCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config
}

func (g *UndoCommand) Name() string {
	return g.fs.Name()
}

func (g *UndoCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	g.cfg = cfg

	return nil
}

func (g *UndoCommand) Run() error {
	// a running service owns the chain
	lock, err := lifecycle.AcquireInstanceLock(lockPath(g.cfg))
	if err != nil {
		return err
	}
	defer lock.Release()

	opts := networking.CaptureOptionsFromConfig(g.cfg)
	log.Infof("Removing capture chain %s...", opts.Chain)

	capture, err := networking.NewIPTablesCapture(opts)
	if err != nil {
		return err
	}
	if err := capture.Purge(); err != nil {
		log.Errorf("Failed to remove capture rules: %v", err)
		return err
	}

	log.Infof("Undo capture completed successfully")
	return nil
}
