package version

import "fmt"

// Version is the loader's own release, set via ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/chainloader/internal/version.Version=v1.4.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent is the descriptive agent string sent with every metadata and download request.
func UserAgent() string {
	return fmt.Sprintf("chainloader/%s (component initializer)", Version)
}
