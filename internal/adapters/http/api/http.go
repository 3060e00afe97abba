// Package api serves the operator surface of the coordinator: calibration
// triggers, stats, metrics and the dashboard websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/netvr/internal/adapters/dashboard"
	"github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
)

// Dependencies required by HTTP handlers. Errors should carry one of the
// package's sentinel kinds.
type Dependencies interface {
	// StartCalibration begins a session and returns its id.
	StartCalibration(ctx context.Context, t model.CalibrationTrigger) (string, error)

	// ReapplyCalibration recomputes a stored session and pushes the result.
	ReapplyCalibration(ctx context.Context, in model.CalibrationInput) (calibration.Report, error)

	// LoadDump reads a calibration dump by bare file name from the
	// configured dump directory.
	LoadDump(ctx context.Context, name string) (model.CalibrationInput, error)

	// MoveClients overrides the base space of each listed client.
	MoveClients(ctx context.Context, moves []dashboard.ClientMove) error

	// FullState is the complete server view for a dashboard.
	FullState(ctx context.Context) dashboard.FullState
}

// Server wires HTTP routes for the operator API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	calibrationHandler *CalibrationHandler
	socketHandler      *SocketHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, hub *dashboard.Hub) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		calibrationHandler: NewCalibrationHandler(deps),
		socketHandler:      NewSocketHandler(deps, hub),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/calibration", MetricsMiddleware(s.calibrationHandler.HandleStart, "calibration"))
	mux.HandleFunc("/calibration/reapply", MetricsMiddleware(s.calibrationHandler.HandleReapply, "calibration_reapply"))
	mux.HandleFunc("/ws", s.socketHandler.HandleSocket)

	logger.Get().Named("api").Debug(ctx, "routes registered")
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeKindError picks the status from err's sentinel kind.
func writeKindError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeError(w, status, code, err)
}
