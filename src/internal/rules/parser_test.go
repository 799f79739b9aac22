package rules

import (
	stderrors "errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
)

func TestParse_Formats(t *testing.T) {
	input := `# redirects
api.foo.com 10.0.0.5
*.ads.example.com 0.0.0.0   # trailing comment
v6.foo.com 2001:db8::1
Tracker.Example.NET. block

192.168.1.10 nas.lan nas
`
	set, report := Parse(strings.NewReader(input))

	require.Empty(t, report.Errors)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 6, report.Loaded)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 6, set.Len())

	rules := set.Rules()
	assert.Equal(t, "api.foo.com", rules[0].Pattern)
	assert.Equal(t, ActionRedirect, rules[0].Action)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), rules[0].Target)
	assert.Equal(t, 2, rules[0].Line)

	assert.True(t, rules[1].Wildcard)
	assert.Equal(t, "ads.example.com", rules[1].Domain)
	assert.Equal(t, ActionBlock, rules[1].Action)

	assert.Equal(t, "tracker.example.net", rules[3].Pattern)
	assert.True(t, rules[3].IsBlock())
	assert.False(t, rules[3].Target.IsValid())
	assert.Equal(t, "block", rules[3].TargetString())

	assert.Equal(t, "nas.lan", rules[4].Pattern)
	assert.Equal(t, "nas", rules[5].Pattern)
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), rules[5].Target)
}

func TestParse_MalformedLines(t *testing.T) {
	input := `good.example.com 10.0.0.1
missing-target.com
bad..host 10.0.0.2
a.example.com not-an-ip
too.many.fields 10.0.0.3 extra
*.* 10.0.0.4
foo.*.com 10.0.0.5
10.0.0.6
fe80::1%eth0 zoned.example.com
also-good.example.com ::1
`
	set, report := Parse(strings.NewReader(input))

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 8, report.Skipped)
	assert.Len(t, report.Errors, report.Skipped)
	assert.Equal(t, report.Total, report.Loaded+report.Skipped)

	lines := make([]int, 0, len(report.Errors))
	for _, e := range report.Errors {
		lines = append(lines, e.Line)
		assert.NotEmpty(t, e.Reason)
		assert.NotEmpty(t, e.Text)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9}, lines)
}

func TestParse_HostsLineCountedOnce(t *testing.T) {
	input := "1.2.3.4 bad!host good.example.com also_bad!\nok.com 1.1.1.1\n"
	set, report := Parse(strings.NewReader(input))

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Total)
	require.Len(t, report.Errors, 1)

	perr := report.Errors[0]
	assert.Equal(t, 1, perr.Line)
	assert.Contains(t, perr.Reason, `"bad!host"`)
	assert.Contains(t, perr.Reason, `"also_bad!"`)

	rule, ok := set.Lookup("good.example.com")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), rule.Target)
}

func TestParse_HostsLineBadTarget(t *testing.T) {
	set, report := Parse(strings.NewReader("fe80::1%eth0 a.example.com b.example.com\n"))

	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Reason, "zoned")
	assert.NotContains(t, report.Errors[0].Reason, ";")
}

func TestParse_LineEndings(t *testing.T) {
	set, report := Parse(strings.NewReader("a.example.com 10.0.0.1\r\nb.example.com 10.0.0.2"))

	require.Empty(t, report.Errors)
	assert.Equal(t, 2, set.Len())
	rule, ok := set.Lookup("b.example.com")
	require.True(t, ok)
	assert.Equal(t, 2, rule.Line)
}

func TestParse_LineTooLong(t *testing.T) {
	long := strings.Repeat("x", maxLineLength+10)
	input := "a.example.com 10.0.0.1\n" + long + "\nb.example.com 10.0.0.2\n" + long

	set, report := Parse(strings.NewReader(input))

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 2, report.Errors[0].Line)
	assert.Equal(t, 4, report.Errors[1].Line)
	assert.Contains(t, report.Errors[0].Reason, "line too long")
	assert.Less(t, len(report.Errors[0].Text), 100)

	rule, ok := set.Lookup("b.example.com")
	require.True(t, ok)
	assert.Equal(t, 3, rule.Line)
}

func TestParse_DuplicatesLastWins(t *testing.T) {
	input := `api.foo.com 10.0.0.5
other.com 10.0.0.9
API.FOO.COM. 10.0.0.6
`
	set, report := Parse(strings.NewReader(input))

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 3, report.Loaded)
	require.Equal(t, 2, set.Len())

	rule, ok := set.Lookup("api.foo.com")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.6"), rule.Target)
	assert.Equal(t, 3, rule.Line)

	// position of the first occurrence is kept
	assert.Equal(t, "api.foo.com", set.Rules()[0].Pattern)
}

func TestParse_EmptyInput(t *testing.T) {
	set, report := Parse(strings.NewReader("\n\n# only comments\n   \n"))
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Errors)
}

func TestParseError(t *testing.T) {
	perr := ParseError{Source: "rules.txt", Line: 3, Text: "x y z", Reason: "bad"}
	assert.Equal(t, `rules.txt:3: bad: "x y z"`, perr.Error())
	assert.True(t, stderrors.Is(perr, errors.ErrParse))

	perr.Source = ""
	assert.Equal(t, `line 3: bad: "x y z"`, perr.Error())
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in         string
		wantAction Action
		wantAddr   string
		wantErr    bool
	}{
		{in: "10.0.0.5", wantAction: ActionRedirect, wantAddr: "10.0.0.5"},
		{in: "2001:db8::1", wantAction: ActionRedirect, wantAddr: "2001:db8::1"},
		{in: "::ffff:10.0.0.5", wantAction: ActionRedirect, wantAddr: "10.0.0.5"},
		{in: "0.0.0.0", wantAction: ActionBlock, wantAddr: "0.0.0.0"},
		{in: "::", wantAction: ActionBlock, wantAddr: "::"},
		{in: "BLOCK", wantAction: ActionBlock},
		{in: "example.com", wantErr: true},
		{in: "10.0.0.256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			action, addr, err := parseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, action)
			if tt.wantAddr == "" {
				assert.False(t, addr.IsValid())
			} else {
				assert.Equal(t, netip.MustParseAddr(tt.wantAddr), addr)
			}
		})
	}
}
