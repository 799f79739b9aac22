package rules

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strings"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

const maxLineLength = 64 * 1024

// ParseError describes one rejected rule entry. Loading continues past it.
type ParseError struct {
	Source string `json:"source,omitempty"`
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (e ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: %s: %q", e.Source, e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Unwrap lets callers match any ParseError with errors.Is(err, errors.ErrParse).
func (e ParseError) Unwrap() error {
	return errors.ErrParse
}

// LoadReport summarizes a load. Every entry is either loaded or skipped:
// Total == Loaded + Skipped and Skipped == len(Errors). Duplicates counts
// loaded entries that replaced an earlier rule for the same pattern.
type LoadReport struct {
	Total      int          `json:"total"`
	Loaded     int          `json:"loaded"`
	Skipped    int          `json:"skipped"`
	Duplicates int          `json:"duplicates"`
	Errors     []ParseError `json:"errors,omitempty"`
}

func (r *LoadReport) merge(other *LoadReport) {
	r.Total += other.Total
	r.Loaded += other.Loaded
	r.Skipped += other.Skipped
	r.Duplicates += other.Duplicates
	r.Errors = append(r.Errors, other.Errors...)
}

// builder accumulates rules from one or more sources into a RuleSet.
type builder struct {
	rules    []Rule
	index    map[string]int
	report   *LoadReport
	sources  []string
	filter   *FilterEngine
	checksum []string
}

func newBuilder() *builder {
	return &builder{
		index:  map[string]int{},
		report: &LoadReport{},
	}
}

func (b *builder) reject(source string, line int, text, reason string) {
	perr := ParseError{Source: source, Line: line, Text: text, Reason: reason}
	b.report.Total++
	b.report.Skipped++
	b.report.Errors = append(b.report.Errors, perr)
	log.Warnf("Skipping rule: %v", perr)
}

// add stores a rule. The last rule for a pattern wins but keeps the load
// position of the first one.
func (b *builder) add(rule Rule) {
	b.report.Total++
	b.report.Loaded++

	if idx, ok := b.index[rule.Pattern]; ok {
		b.report.Duplicates++
		log.Debugf("Rule %q at %s:%d overrides %s:%d", rule.Pattern, rule.Source, rule.Line, b.rules[idx].Source, b.rules[idx].Line)
		b.rules[idx] = rule
		return
	}

	b.index[rule.Pattern] = len(b.rules)
	b.rules = append(b.rules, rule)
}

// parseText reads the line format: "pattern target" or hosts-file order
// "target host1 [host2 ...]". '#' starts a comment anywhere on a line.
// Lines longer than maxLineLength are skipped, not fatal.
func (b *builder) parseText(r io.Reader, source string) (int, error) {
	br := bufio.NewReaderSize(r, maxLineLength)

	lineNo := 0
	for {
		raw, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return lineNo, errors.NewParseError(fmt.Sprintf("failed to read %s", sourceName(source)), err)
		}
		if err == io.EOF && raw == "" && !tooLong {
			return lineNo, nil
		}

		lineNo++
		if tooLong {
			b.reject(source, lineNo, clipText(raw), fmt.Sprintf("line too long, limit is %d bytes", maxLineLength))
		} else {
			b.parseLine(source, lineNo, raw)
		}

		if err == io.EOF {
			return lineNo, nil
		}
	}
}

// readLine returns the next line without its terminator. A line that does
// not fit the reader's buffer is drained and returned cut, with tooLong set.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	buf, err := br.ReadSlice('\n')
	if err != bufio.ErrBufferFull {
		return strings.TrimRight(string(buf), "\r\n"), false, err
	}

	line = string(buf)
	for err == bufio.ErrBufferFull {
		_, err = br.ReadSlice('\n')
	}
	return line, true, err
}

func (b *builder) parseLine(source string, lineNo int, raw string) {
	content := raw
	if i := strings.IndexByte(content, '#'); i >= 0 {
		content = content[:i]
	}
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return
	}
	text := strings.TrimSpace(raw)

	if _, err := netip.ParseAddr(fields[0]); err == nil {
		if len(fields) < 2 {
			b.reject(source, lineNo, text, "missing host name after target")
			return
		}
		b.addHosts(source, lineNo, text, fields[0], fields[1:])
		return
	}

	switch len(fields) {
	case 1:
		b.reject(source, lineNo, text, "missing target")
	case 2:
		b.addEntry(source, lineNo, text, fields[0], fields[1])
	default:
		b.reject(source, lineNo, text, fmt.Sprintf("unexpected %d fields, expected \"pattern target\"", len(fields)))
	}
}

// addHosts loads every valid host of a hosts-order line. The invalid ones
// make up a single rejection, so a line is counted as skipped at most once.
func (b *builder) addHosts(source string, lineNo int, text, target string, hosts []string) {
	var reasons []string
	for _, host := range hosts {
		rule, err := newRule(host, target)
		if err != nil {
			if reason := err.Error(); !slices.Contains(reasons, reason) {
				reasons = append(reasons, reason)
			}
			continue
		}
		b.addAt(source, lineNo, rule)
	}
	if len(reasons) > 0 {
		b.reject(source, lineNo, text, strings.Join(reasons, "; "))
	}
}

func (b *builder) addEntry(source string, lineNo int, text, pattern, target string) {
	rule, err := newRule(pattern, target)
	if err != nil {
		b.reject(source, lineNo, text, err.Error())
		return
	}
	b.addAt(source, lineNo, rule)
}

func (b *builder) addAt(source string, lineNo int, rule Rule) {
	rule.Source = source
	rule.Line = lineNo
	b.add(rule)
}

// clipText shortens an overlong line for the error report.
func clipText(s string) string {
	const keep = 80
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}

func (b *builder) build() *RuleSet {
	txn := iradix.New().Txn()
	exact := make(map[string]int, len(b.rules))
	for i, rule := range b.rules {
		if rule.Wildcard {
			txn.Insert([]byte(reverseKey(rule.Domain)), i)
		} else {
			exact[rule.Pattern] = i
		}
	}

	return &RuleSet{
		rules:    b.rules,
		exact:    exact,
		wildcard: txn.Commit(),
		filter:   b.filter,
		sources:  b.sources,
		checksum: strings.Join(b.checksum, ","),
		loadedAt: time.Now(),
		report:   b.report,
	}
}

// Parse reads rules in the line format. Malformed lines are reported and
// skipped; a read error stops parsing and is reported as a ParseError entry
// for the line after the last one read.
func Parse(r io.Reader) (*RuleSet, *LoadReport) {
	b := newBuilder()
	if lines, err := b.parseText(r, ""); err != nil {
		b.reject("", lines+1, "", err.Error())
	}
	set := b.build()
	return set, set.report
}

func sourceName(source string) string {
	if source == "" {
		return "rules"
	}
	return source
}
