package version

// Injected at build time, e.g.
// -X 'github.com/ragon/ragon/pkg/version.Version=v0.3.0'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// ServerName is advertised to MCP clients in serverInfo.
const ServerName = "RAGON Organizational Memory"

type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

func Get() Info {
	return Info{
		Name:       ServerName,
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
	}
}
