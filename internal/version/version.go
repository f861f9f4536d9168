// Package version holds build-time identifiers, overridable via
// -ldflags "-X github.com/duskpost/poster/internal/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
