package api

import (
	"net/http"
	"time"
)

// Stats is the coordinator snapshot served on GET /stats.
type Stats struct {
	Started            bool   `json:"started"`
	UptimeSeconds      int    `json:"uptime_seconds"`
	Clients            int    `json:"clients"`
	ConfiguredClients  int    `json:"configured_clients"`
	MergedClients      int    `json:"merged_clients"`
	WorldObjects       int    `json:"world_objects"`
	CommandQueueLength int    `json:"command_queue_length"`
	Goroutines         int    `json:"goroutines"`
	DumpDirectory      string `json:"calibration_dump_dir,omitempty"`

	// Calibration is set while a session collects samples.
	Calibration     *CalibrationProgress `json:"calibration,omitempty"`
	// LastCalibration is the most recent finished session or reapply.
	LastCalibration *CalibrationSummary  `json:"last_calibration,omitempty"`
}

// CalibrationProgress counts samples gathered by the running session.
type CalibrationProgress struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Wanted    int    `json:"wanted"`
	Target    int    `json:"target"`
	Reference int    `json:"reference"`
}

// CalibrationSummary describes a finished session. DumpName can be passed
// to POST /calibration/reapply.
type CalibrationSummary struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	Samples       int       `json:"samples"`
	AcceptedPairs int       `json:"accepted_pairs"`
	RejectedPairs int       `json:"rejected_pairs"`
	DumpName      string    `json:"dump_name,omitempty"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// StatsProvider defines the interface for getting coordinator statistics.
type StatsProvider interface {
	GetStats() Stats
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.statsProvider.GetStats())
}
