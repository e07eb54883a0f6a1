// Package version holds build version information.
package version

// Version is the application version. Overridden at build time via
// -ldflags "-X github.com/oiltrading/riskengine/internal/version.Version=v1.2.3"
var Version = "dev"
