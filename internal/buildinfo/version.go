// Package buildinfo holds version metadata stamped at link time via
// -ldflags, surfaced by the --version flag.
package buildinfo

// Version is overridden at build time, e.g.:
//
//	go build -ldflags "-X github.com/aduki-Inc/Pori/internal/buildinfo.Version=1.2.3"
var Version = "dev"
