package web

import (
	"net/http"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
)

// Management link shown on the admin page.
const (
	LinkIconFileName = "help.png"
	LinkDisplayName  = "Open File Handles"
	LinkURLName      = "file-handles"
	LinkDescription  = "Monitor the current open file handles on the host process"
)

// Reply bodies of the file-handles pages.
const (
	MsgNotRunning       = "File leak detector is not running"
	MsgAlreadyActivated = "File leak detector is already activated"
	MsgActivatedPrefix  = "Activated file leak detector. Output: \n"
)

// ManagementLink describes one entry of the management page.
type ManagementLink struct {
	IconFileName string `json:"icon_file_name"`
	DisplayName  string `json:"display_name"`
	URLName      string `json:"url_name"`
	Description  string `json:"description"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Agent     string                        `json:"agent"`
	Active    bool                          `json:"active"`
	Resources *diagnostics.ResourceSnapshot `json:"resources,omitempty"`
	Trend     *diagnostics.ResourceTrend    `json:"trend,omitempty"`
	Warnings  []diagnostics.HealthWarning   `json:"warnings,omitempty"`
	Process   *diagnostics.ProcessInfo      `json:"process,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleManagementLinks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, []ManagementLink{{
		IconFileName: LinkIconFileName,
		DisplayName:  LinkDisplayName,
		URLName:      LinkURLName,
		Description:  LinkDescription,
	}})
}

// handleDump streams the detector's report. Headers go out with the first
// byte, so a dump that fails before writing anything still gets an error
// status.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	if !s.agent.IsActive() {
		respondText(w, http.StatusServiceUnavailable, MsgNotRunning)
		return
	}

	dw := &dumpWriter{w: w}
	if err := s.agent.Dump(dw); err != nil {
		if !dw.started {
			s.respondDomainError(w, r, err)
			return
		}
		s.logger.Error("dump interrupted", "agent", s.agent.Name(), "bytes", dw.n, "error", err)
		return
	}
	if !dw.started {
		dw.start()
	}
}

type dumpWriter struct {
	w       http.ResponseWriter
	started bool
	n       int
}

func (d *dumpWriter) start() {
	d.started = true
	d.w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
	d.w.WriteHeader(http.StatusOK)
}

func (d *dumpWriter) Write(p []byte) (int, error) {
	if !d.started {
		d.start()
	}
	n, err := d.w.Write(p)
	d.n += n
	return n, err
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	result, err := s.activator.Activate(r.Context(), r.FormValue("opts"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if result.AlreadyActive {
		respondText(w, http.StatusOK, MsgAlreadyActivated)
		return
	}
	respondText(w, http.StatusOK, MsgActivatedPrefix+result.Output)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Agent:  s.agent.Name(),
		Active: s.agent.IsActive(),
	}

	if s.monitor != nil {
		snapshot := s.monitor.TakeSnapshot()
		trend := s.monitor.GetTrend()
		resp.Resources = &snapshot
		resp.Trend = &trend
		resp.Warnings = s.monitor.CheckHealth()
	}

	if s.inspector != nil {
		withFiles := r.URL.Query().Get("files") == "true"
		info, err := s.inspector.Self(r.Context(), withFiles)
		if err != nil {
			s.logger.Warn("process inspection failed", "error", err)
		} else {
			resp.Process = info
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
