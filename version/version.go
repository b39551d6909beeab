// Package version holds build-time metadata injected via -ldflags, mirroring
// the teacher's version package referenced from cmd/shelf/version.go.
package version

import "runtime"

// GitRelease, GitCommit, and GitCommitDate are overwritten at build time
// with:
//
//	-ldflags "-X github.com/jackzampolin/registryctl/version.GitRelease=... \
//	           -X github.com/jackzampolin/registryctl/version.GitCommit=... \
//	           -X github.com/jackzampolin/registryctl/version.GitCommitDate=..."
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
	GoInfo        = runtime.Version()
)
