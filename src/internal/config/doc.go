// Package config handles configuration file parsing and validation for hosts-redirect.
//
// The configuration is a TOML file with five sections:
//   - [general]: rules file, YAML rewrite imports, adblock filter lists, state file
//   - [dns]: DNS interceptor listener, upstreams, answer TTL, block mode
//   - [router]: transparent session router listener, captured ports, timeouts, route mark
//   - [capture]: iptables capture chain, interfaces and extra rules
//   - [api]: REST control API
//
// Omitted sections and zero values fall back to defaults through getter
// methods (GetListenPort, GetIdleTimeout, ...). ValidateConfig collects every
// problem instead of stopping at the first one.
//
//	cfg, err := config.LoadConfig("/etc/hosts-redirect/hosts-redirect.conf")
//	if err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cfg.ValidateConfig(); err != nil {
//	    log.Fatalf("%v", err)
//	}
//
// The persisted service state (enabled flag and rules path override) lives in
// a separate state file handled by LoadState and State.Save.
package config
