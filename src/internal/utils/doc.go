// Package utils provides small helpers shared across hosts-redirect:
// host name normalization and validation, path resolution
// and safe closing of resources.
//
//	utils.NormalizeHost("API.Foo.com.") // "api.foo.com"
//	utils.GetAbsolutePath("rules.txt", "/etc/hosts-redirect")
package utils
