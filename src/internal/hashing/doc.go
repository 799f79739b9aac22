// Package hashing provides MD5 checksums of rule sources.
//
// Checksums identify a loaded rule set and let the service report whether
// the files on disk differ from what is currently active.
//
//	r := hashing.NewChecksumReader(file)
//	set, report := rules.Parse(r)
//	fmt.Println(r.Checksum())
package hashing
