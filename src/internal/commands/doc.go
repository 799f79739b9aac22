// Package commands implements the CLI subcommands of hosts-redirect.
//
// Each command implements the Runner interface:
//   - Init(): Parse arguments and load configuration
//   - Run(): Execute the command
//   - Name(): Return command name for routing
//
// # Available Commands
//
//   - service: Run the interceptor and the control API as a daemon
//   - check: Validate configuration, rule sources and capture setup
//   - lookup: Show the decision for host names against the rule files
//   - export-hosts: Write the exact rules as a hosts file
//   - download: Fetch remote lists into the lists directory
//   - interfaces: List network interfaces and their addresses
//   - undo-capture: Remove capture rules left behind by a crashed service
//   - start, stop, restart, reload, status: Control a running service
//     through its API
//
// # Example Usage
//
//	cmd := commands.CreateCheckCommand()
//	ctx := &commands.AppContext{
//	    ConfigPath: "/etc/hosts-redirect/hosts-redirect.toml",
//	}
//	if err := cmd.Init(args, ctx); err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cmd.Run(); err != nil {
//	    log.Fatalf("%v", err)
//	}
package commands
