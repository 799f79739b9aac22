// Package log provides simple leveled logging for hosts-redirect.
//
// Levels are DEBUG (verbose mode only), INFO, WARN and ERROR. Output is
// coloured with ANSI escape codes; errors go to stderr, everything else to
// stdout unless SetForceStdErr is enabled.
//
//	log.Infof("Rules loaded from %s", path)
//	log.Warnf("Skipping line %d: %v", n, err)
//
//	log.SetVerbose(true)
//	log.Debugf("[%04x] DNS query: %s", id, name)
//
// All functions are safe for concurrent use.
package log
