package handlers

import "net/http"

// Build information, set with -ldflags at release time
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// VersionResponse describes the running binary
type VersionResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
}

// NewVersionHandler reports the service name and build of this process
func NewVersionHandler(service, version string) http.HandlerFunc {
	resp := VersionResponse{
		Service:   service,
		Version:   version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resp)
	}
}
