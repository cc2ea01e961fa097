package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

type serverView struct {
	Name                string     `json:"name"`
	Endpoint            string     `json:"endpoint"`
	Enabled             bool       `json:"enabled"`
	Healthy             bool       `json:"healthy"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastProbeTime       *time.Time `json:"lastProbeTime,omitempty"`
	NextRetryTime       *time.Time `json:"nextRetryTime,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

type toolsView struct {
	ETag  string            `json:"etag"`
	Tools []json.RawMessage `json:"tools"`
}

type healthView struct {
	Servers map[string]bool   `json:"servers"`
	States  map[string]string `json:"states"`
}

type refreshView struct {
	Ran         bool   `json:"ran"`
	Shared      bool   `json:"shared"`
	Probed      int    `json:"probed"`
	Healthy     int    `json:"healthy"`
	DurationMs  int64  `json:"durationMs"`
	ConfigError string `json:"configError,omitempty"`
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	entries := s.backends.Entries()
	out := make([]serverView, 0, len(entries))
	for _, entry := range entries {
		view := serverView{
			Name:     entry.Name,
			Endpoint: entry.Endpoint,
			Enabled:  entry.Enabled,
			State:    "disabled",
		}
		if health, ok := s.backends.Health(entry.Name); ok {
			view.Healthy = health.Healthy()
			view.State = string(health.State)
			view.ConsecutiveFailures = health.ConsecutiveFailures
			view.LastProbeTime = optionalTime(health.LastProbeTime)
			view.NextRetryTime = optionalTime(health.NextRetryTime)
			view.LastError = health.LastError
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	snapshot := s.tools.Snapshot()
	etag := `"` + snapshot.ETag + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	tools := make([]json.RawMessage, 0, len(snapshot.Tools))
	for _, tool := range snapshot.Tools {
		tools = append(tools, tool.Schema)
	}
	writeJSON(w, http.StatusOK, toolsView{ETag: snapshot.ETag, Tools: tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	view := healthView{Servers: map[string]bool{}, States: map[string]string{}}
	for _, entry := range s.backends.Entries() {
		health, ok := s.backends.Health(entry.Name)
		if !ok {
			view.Servers[entry.Name] = false
			view.States[entry.Name] = "disabled"
			continue
		}
		view.Servers[entry.Name] = health.Healthy()
		view.States[entry.Name] = string(health.State)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	req, err := parseCall(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.CallSync(r.Context(), req).Wire())
}

func (s *Server) handleCallStream(w http.ResponseWriter, r *http.Request) {
	req, err := parseCall(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	events, err := s.dispatcher.CallStream(r.Context(), req)
	if err != nil {
		events = singleEvent(domain.EventFromResult(domain.Failure(err)))
	}
	s.streamEvents(w, r, events)
	telemetry.LoggerWithRequest(r.Context(), s.logger).Debug("stream finished",
		telemetry.ToolField(req.QualifiedToolName),
		zap.Bool("clientGone", r.Context().Err() != nil),
	)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, err := parseApproval(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Approve(r.Context(), req).Wire())
}

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.approvals.List()})
}

func (s *Server) handleRejectApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.approvals.Reject(r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report := s.backends.Refresh(r.Context())
	view := refreshView{
		Ran:        report.Ran,
		Shared:     report.Shared,
		Probed:     report.Probed,
		Healthy:    report.Healthy,
		DurationMs: report.Duration.Milliseconds(),
	}
	if report.ConfigError != nil {
		view.ConfigError = report.ConfigError.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
