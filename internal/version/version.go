// Package version carries build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X rgb2hsv/internal/version.BuildNumber=42 -X rgb2hsv/internal/version.GitCommit=abc123" ./cmd/rgb2hsv
package version

import "rgb2hsv/internal/hsv"

var (
	BuildNumber = "0"
	GitCommit   = "unknown"
)

// String returns a concise version string for logs, including the kernel
// compiled in through build tags.
func String() string {
	s := "build " + BuildNumber
	if GitCommit != "unknown" && GitCommit != "" {
		s += " (" + GitCommit + ")"
	}
	return s + " kernel=" + hsv.DefaultVariant.String()
}
