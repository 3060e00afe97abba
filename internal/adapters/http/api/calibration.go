package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/model"
)

// CalibrationHandler handles calibration requests.
type CalibrationHandler struct {
	deps Dependencies
}

// NewCalibrationHandler creates a new calibration handler.
func NewCalibrationHandler(deps Dependencies) *CalibrationHandler {
	return &CalibrationHandler{deps: deps}
}

type calibrationRequest struct {
	Target                 model.ClientID           `json:"target"`
	TargetSubactionPath    string                   `json:"target_subaction_path"`
	Reference              model.ClientID           `json:"reference"`
	ReferenceSubactionPath string                   `json:"reference_subaction_path"`
	Config                 *model.CalibrationConfig `json:"config,omitempty"`
}

func (c calibrationRequest) validate() error {
	switch {
	case c.Target == 0:
		return errors.New("missing target")
	case c.Reference == 0:
		return errors.New("missing reference")
	case c.Target == c.Reference:
		return errors.New("target and reference must differ")
	case c.Config != nil && c.Config.SampleCount <= 0:
		return errors.New("config.sample_count must be positive")
	}
	return nil
}

func (c calibrationRequest) trigger() model.CalibrationTrigger {
	cfg := model.DefaultCalibrationConfig()
	if c.Config != nil {
		cfg = *c.Config
	}
	return model.CalibrationTrigger{
		Target:                 c.Target,
		TargetSubactionPath:    c.TargetSubactionPath,
		Reference:              c.Reference,
		ReferenceSubactionPath: c.ReferenceSubactionPath,
		Config:                 cfg,
	}
}

type startResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// HandleStart handles POST /calibration requests.
func (h *CalibrationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_calibration"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	id, err := h.deps.StartCalibration(r.Context(), req.trigger())
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{Status: "started", SessionID: id})
}

// reapplyRequest names a dump in the coordinator's dump directory or
// carries the input inline.
type reapplyRequest struct {
	Name  string                  `json:"name,omitempty"`
	Input *model.CalibrationInput `json:"input,omitempty"`
}

// HandleReapply handles POST /calibration/reapply requests.
func (h *CalibrationHandler) HandleReapply(w http.ResponseWriter, r *http.Request) {
	const op = "api.reapply_calibration"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req reapplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	var in model.CalibrationInput
	switch {
	case req.Input != nil:
		in = *req.Input
	case req.Name != "":
		loaded, err := h.deps.LoadDump(r.Context(), req.Name)
		if err != nil {
			// Loader detail stays in the server log.
			status, code := statusOf(err)
			writeError(w, status, code, NewKind(op, kindOf(err)))
			return
		}
		in = loaded
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	report, err := h.deps.ReapplyCalibration(r.Context(), in)
	if err != nil {
		if errors.Is(err, calibration.ErrNotEnoughPairs) || errors.Is(err, calibration.ErrSampleMismatch) {
			writeError(w, http.StatusUnprocessableEntity, "calibration_failed", err)
			return
		}
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
