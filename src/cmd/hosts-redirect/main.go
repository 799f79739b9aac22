package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
	"github.com/maksimkurb/hosts-redirect/src/internal/commands"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

var (
	version = "dev"
	commit  = "n/a"
	date    = "n/a"
)

func main() {
	api.Version, api.Commit, api.Date = version, commit, date

	ctx := &commands.AppContext{}

	flag.StringVar(&ctx.ConfigPath, "config", "/opt/etc/hosts-redirect/hosts-redirect.toml", "Path to configuration file")
	flag.BoolVar(&ctx.Verbose, "verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Transparent hosts-based redirector\n")
		fmt.Fprintf(os.Stderr, "Version: %s (Commit: %s, Date: %s)\n\n", version, commit, date)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  service                 Run as a service/daemon (DNS proxy, session router and API)\n")
		fmt.Fprintf(os.Stderr, "  check                   Validate configuration, rules and capture setup\n")
		fmt.Fprintf(os.Stderr, "  lookup <host...>        Show what the rules decide for host names\n")
		fmt.Fprintf(os.Stderr, "  export-hosts            Write exact rules as a hosts file\n")
		fmt.Fprintf(os.Stderr, "  download                Download remote lists\n")
		fmt.Fprintf(os.Stderr, "  interfaces              List network interfaces\n")
		fmt.Fprintf(os.Stderr, "  undo-capture            Remove capture rules left by a crashed service\n")
		fmt.Fprintf(os.Stderr, "  start|stop|restart      Control interception of the running service\n")
		fmt.Fprintf(os.Stderr, "  reload                  Reload rules of the running service\n")
		fmt.Fprintf(os.Stderr, "  status                  Show status of the running service\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if ctx.Verbose {
		log.SetVerbose(true)
	}

	if _, err := os.Stat(ctx.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Configuration file not found: %s", ctx.ConfigPath)
	}

	cmds := []commands.Runner{
		commands.CreateServiceCommand(),
		commands.CreateCheckCommand(),
		commands.CreateLookupCommand(),
		commands.CreateExportHostsCommand(),
		commands.CreateDownloadCommand(),
		commands.CreateInterfacesCommand(),
		commands.CreateUndoCommand(),
	}
	cmds = append(cmds, commands.CreateControlCommands()...)

	args := flag.Args()

	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	subcommand := args[0]
	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(args[1:], ctx); err != nil {
				log.Fatalf("Failed to initialize command: %v", err)
			}

			if err := cmd.Run(); err != nil {
				log.Fatalf("Failed to run command: %v", err)
			}

			os.Exit(0)
		}
	}

	log.Fatalf("Unknown subcommand: %s", subcommand)
}
