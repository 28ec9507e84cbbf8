// Package version holds the build version, set with -ldflags at release time.
package version

// Version is overridden with
// -ldflags "-X github.com/jrepp/sdkruntime/internal/version.Version=v1.2.3".
var Version = "0.1.0-dev"
