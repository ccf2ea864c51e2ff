package version

// Version is the snapkeeper release, set at build time with
//
//	-ldflags "-X github.com/arencloud/snapkeeper/internal/version.Version=vX.Y.Z"
//
// It stays "dev" for untagged local builds.
var Version = "dev"
