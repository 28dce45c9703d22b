package hub

import (
	"net/http"

	"github.com/JocelynWordSmith/polly/internal/httputil"
	"github.com/JocelynWordSmith/polly/internal/version"
)

// endpointStatus is the per-endpoint block of the /status response.
type endpointStatus struct {
	Clients int `json:"clients"`
}

// statusResponse is the GET /status body.
type statusResponse struct {
	Server     string                    `json:"server"`
	AppVersion string                    `json:"app_version"`
	Endpoints  map[string]endpointStatus `json:"endpoints"`
}

// ServeStatus handles GET /status.
func (h *Hub) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{
		Server:     "polly",
		AppVersion: version.Version,
		Endpoints:  make(map[string]endpointStatus),
	}
	for name, count := range h.ClientCounts() {
		resp.Endpoints[name] = endpointStatus{Clients: count}
	}
	httputil.WriteJSONOK(w, resp)
}
