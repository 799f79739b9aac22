// Package rules parses and holds host redirection rules.
//
// A rules file has one rule per line, either "pattern target" or hosts-file
// order "target host1 host2". Patterns are host names or "*." wildcards that
// match proper subdomains. Targets are IPv4/IPv6 addresses or "block";
// 0.0.0.0 and :: also block.
//
//	api.foo.com         10.0.0.5
//	*.ads.example.com   0.0.0.0   # blocks x.ads.example.com only
//	192.168.1.10 nas.lan nas
//
// Loading never stops at a bad line: rejected entries are returned in a
// LoadReport. The result is an immutable RuleSet which a Store swaps
// atomically on reload.
package rules
