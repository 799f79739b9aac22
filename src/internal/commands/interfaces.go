package commands

import (
	"flag"
	"fmt"
	"strings"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
)

func CreateInterfacesCommand() *InterfacesCommand {
	return &InterfacesCommand{
		fs: flag.NewFlagSet("interfaces", flag.ExitOnError),
	}
}

// InterfacesCommand lists the links the capture can be bound to.
type InterfacesCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config
}

func (g *InterfacesCommand) Name() string {
	return g.fs.Name()
}

func (g *InterfacesCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	// the config is optional here, it only marks the captured interfaces
	if cfg, err := config.LoadConfig(ctx.ConfigPath); err == nil {
		g.cfg = cfg
	}

	return nil
}

func (g *InterfacesCommand) Run() error {
	interfaces, err := networking.GetInterfaceList()
	if err != nil {
		return fmt.Errorf("failed to get interfaces: %v", err)
	}

	captured := make(map[string]bool)
	if g.cfg != nil && g.cfg.Capture.Enable {
		for _, name := range g.cfg.Capture.Interfaces {
			captured[name] = true
		}
	}

	for _, iface := range interfaces {
		name := iface.Attrs().Name
		state := "down"
		if iface.IsUp() {
			state = "up"
		}

		marker := " "
		if captured[name] {
			marker = "*"
		}

		var addrs []string
		if ips, err := iface.Addrs(); err == nil {
			for _, ip := range ips {
				addrs = append(addrs, ip.String())
			}
		}
		fmt.Printf("%s %-16s %-4s %s\n", marker, name, state, strings.Join(addrs, ", "))
	}

	if len(captured) > 0 {
		fmt.Println("\n* captured interface")
	}
	return nil
}
