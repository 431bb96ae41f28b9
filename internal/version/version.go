package version

import (
	"fmt"
	"os"
	"runtime"
)

var (
	// Set during the build process using ldflags
	Version   = "0.1.0"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

func init() {
	if v := os.Getenv("MUNIND_VERSION"); v != "" {
		Version = v
	}
	if c := os.Getenv("MUNIND_COMMIT_SHA"); c != "" {
		CommitSHA = c
	}
	if b := os.Getenv("MUNIND_BUILD_TIME"); b != "" {
		BuildTime = b
	}
}

// GetVersion returns the full version string
func GetVersion() string {
	return Version + " (" + CommitSHA + ") built at " + BuildTime
}

// Platform returns the Go runtime and os/arch the binary was built for.
func Platform() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
