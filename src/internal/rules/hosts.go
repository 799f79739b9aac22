package rules

import (
	"bufio"
	"fmt"
	"io"
)

// ExportStats counts what ExportHosts wrote.
type ExportStats struct {
	Written int
	Skipped int
}

// ExportHosts writes the exact rules of set in hosts-file order. Block rules
// become 0.0.0.0 (or :: for IPv6 null targets). Wildcard rules cannot be
// expressed in a hosts file and are written as comments.
func ExportHosts(w io.Writer, set *RuleSet) (ExportStats, error) {
	var stats ExportStats
	bw := bufio.NewWriter(w)

	for _, rule := range set.rules {
		if rule.Wildcard {
			stats.Skipped++
			if _, err := fmt.Fprintf(bw, "# wildcard not supported in hosts files: %s\n", rule); err != nil {
				return stats, err
			}
			continue
		}

		target := "0.0.0.0"
		if rule.Target.IsValid() {
			target = rule.Target.String()
		}
		if _, err := fmt.Fprintf(bw, "%s %s\n", target, rule.Pattern); err != nil {
			return stats, err
		}
		stats.Written++
	}

	return stats, bw.Flush()
}
