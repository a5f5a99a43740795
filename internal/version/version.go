// Package version carries build metadata, set at link time with
//
//	go build -ldflags "-X github.com/banshee-data/ride.report/internal/version.Version=v1.2.0"
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form shown by -version.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
