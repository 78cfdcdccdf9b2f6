package api

// Build identity of the outcome engine. Release builds stamp these via
// -ldflags -X on github.com/openloot/faircore/internal/api; every API
// response carries EngineVersion so recorded outcomes stay attributable
// to the engine build that produced them.
var (
	EngineVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

// GetVersionInfo returns the build identity served on the health surface.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
	}
}
