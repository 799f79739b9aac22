package utils

import (
	"net"
	"regexp"
	"strings"
)

// Same grammar as govalidator's IsDNSName.
var rxDNSName = regexp.MustCompile(`^([a-zA-Z0-9_]{1}[a-zA-Z0-9_-]{0,62}){1}(\.[a-zA-Z0-9_]{1}[a-zA-Z0-9_-]{0,62})*[\._]?$`)

// NormalizeHost lower-cases a host name and strips surrounding whitespace and
// the trailing root dot, so "API.Foo.com." and "api.foo.com" compare equal.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

// IsDNSName reports whether str is a syntactically valid DNS name that is not an IP address.
func IsDNSName(str string) bool {
	if str == "" || len(str) > 253 {
		return false
	}
	return !IsIP(str) && rxDNSName.MatchString(str)
}

// IsIP reports whether str parses as an IPv4 or IPv6 address.
func IsIP(str string) bool {
	return net.ParseIP(str) != nil
}
