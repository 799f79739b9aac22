// Package lists downloads remote rule lists.
//
// A remote list is an adblock-syntax filter list or a YAML rewrite file
// published at a URL. Downloads land in the lists directory next to the
// configuration, where the rule loader picks them up like local sources.
//
// # Change Detection
//
// Every downloaded file gets an .md5 sidecar. A download whose checksum
// matches the sidecar is not written again, so callers can skip a rule
// reload when nothing changed.
package lists
