// Package web provides the HTTP and WebSocket surface of the oven
// controller: status queries, controller commands, profile management,
// telemetry history, and a metrics scrape endpoint.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reflow-oven-go/pkg/control"
	"reflow-oven-go/pkg/datalog"
	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
	"reflow-oven-go/pkg/metrics"
	"reflow-oven-go/pkg/profile"
)

// Server exposes the controller over HTTP.
type Server struct {
	controller *control.Controller
	engine     *profile.Engine
	dataLogger *datalog.Logger
	oven       *metrics.OvenMetrics
	logger     *log.Logger

	httpServer *http.Server
	hub        *wsHub
}

// Config wires the server's collaborators.
type Config struct {
	Addr       string
	Controller *control.Controller
	Engine     *profile.Engine
	DataLogger *datalog.Logger
	Metrics    *metrics.OvenMetrics
	Logger     *log.Logger
}

// New creates a server. Start must be called to begin listening.
func New(cfg Config) *Server {
	s := &Server{
		controller: cfg.Controller,
		engine:     cfg.Engine,
		dataLogger: cfg.DataLogger,
		oven:       cfg.Metrics,
		logger:     cfg.Logger,
	}
	s.hub = newWSHub(s, cfg.Logger)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Routes builds the HTTP mux; exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/controller/start", s.handleStart)
	mux.HandleFunc("/api/controller/stop", s.handleStop)
	mux.HandleFunc("/api/controller/setpoint", s.handleSetpoint)
	mux.HandleFunc("/api/controller/filter", s.handleFilter)
	mux.HandleFunc("/api/controller/gains", s.handleGains)
	mux.HandleFunc("/api/controller/channels", s.handleChannels)
	mux.HandleFunc("/api/controller/relays/pwm", s.handleRelaysPWM)
	mux.HandleFunc("/api/controller/relays/running", s.handleRelaysRunning)
	mux.HandleFunc("/api/controller/door/open", s.handleDoorOpen)
	mux.HandleFunc("/api/controller/door/close", s.handleDoorClose)
	mux.HandleFunc("/api/controller/door/preview", s.handleDoorPreview)
	mux.HandleFunc("/api/controller/door/calibration", s.handleDoorCalibration)

	mux.HandleFunc("/api/profile/upload", s.handleProfileUpload)
	mux.HandleFunc("/api/profile/start", s.handleProfileStart)
	mux.HandleFunc("/api/profile/cancel", s.handleProfileCancel)
	mux.HandleFunc("/api/profile/status", s.handleProfileStatus)
	mux.HandleFunc("/api/profile/slots", s.handleProfileSlots)
	mux.HandleFunc("/api/profile/slots/", s.handleProfileSlot)

	mux.HandleFunc("/api/data/history", s.handleDataHistory)
	mux.HandleFunc("/api/data/export.csv", s.handleDataExport)

	if s.oven != nil {
		mux.Handle("/metrics", s.oven.Registry.Handler())
	}
	mux.HandleFunc("/ws", s.hub.handleUpgrade)

	return mux
}

// Start begins listening and launches the websocket broadcaster.
func (s *Server) Start() error {
	s.hub.start()
	s.logger.Info("web server listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts the server down.
func (s *Server) Close() error {
	s.hub.stop()
	return s.httpServer.Close()
}

// ===== Helpers =====

func statusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{
		"error": err.Error(),
		"kind":  string(errs.KindOf(err)),
	})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errs.Wrap(errs.KindInvalidArgument, err, "decode request body"))
		return false
	}
	return true
}

// statusDocument assembles the full status snapshot shared by /api/status
// and the websocket push.
func (s *Server) statusDocument() map[string]interface{} {
	st := s.controller.GetStatus()
	return map[string]interface{}{
		"controller": map[string]interface{}{
			"state":                st.State,
			"running":              st.Running,
			"alarming":             st.Alarming,
			"door_open":            st.DoorOpen,
			"setpoint_locked":      st.SetpointLocked,
			"setpoint":             st.Setpoint,
			"pv":                   st.ProcessValue,
			"pid_output":           st.PIDOutput,
			"pid_terms":            map[string]float64{"p": st.PIDTerms.P, "i": st.PIDTerms.I, "d": st.PIDTerms.D},
			"input_channels":       st.InputChannels,
			"relay_weights":        st.RelayWeights,
			"relays_when_running":  st.RelaysWhenRunning,
			"input_filter_time_ms": st.InputFilterTimeMs,
			"door_closed_deg":      st.DoorClosedDeg,
			"door_open_deg":        st.DoorOpenDeg,
			"door_speed_deg_s":     st.DoorSpeedDegPerS,
			"servo_angle":          st.ServoAngle,
			"relay_bitmask":        st.RelayBitmask,
		},
		"profile": s.engine.RuntimeStatus(),
	}
}

// ===== Status =====

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.statusDocument())
}

// ===== Controller commands =====

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.controller.Start(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	// Stopping the chamber under a running profile ends the profile on
	// the next tick with controller_stopped; cancel it synchronously so
	// the setpoint lock releases immediately.
	if s.engine.IsRunning() {
		if err := s.engine.CancelRunning(profile.EndControllerStopped); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
		return
	}
	if err := s.controller.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Value float64 `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.SetSetPoint(body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Ms float64 `json:"ms"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.SetInputFilterTime(body.Ms); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

type gainsBody struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Heating        *gainsBody `json:"heating,omitempty"`
		Cooling        *gainsBody `json:"cooling,omitempty"`
		SetpointWeight *float64   `json:"setpoint_weight,omitempty"`
		DerivFilterS   *float64   `json:"derivative_filter_s,omitempty"`
		IntegZoneC     *float64   `json:"integrator_zone_c,omitempty"`
		IntegLeakS     *float64   `json:"integrator_leak_s,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if body.Heating != nil {
		if err := s.controller.SetHeatingGains(body.Heating.Kp, body.Heating.Ki, body.Heating.Kd); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Cooling != nil {
		if err := s.controller.SetCoolingGains(body.Cooling.Kp, body.Cooling.Ki, body.Cooling.Kd); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.SetpointWeight != nil {
		if err := s.controller.SetSetpointWeight(*body.SetpointWeight); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.DerivFilterS != nil {
		if err := s.controller.SetDerivativeFilterTime(*body.DerivFilterS); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.IntegZoneC != nil {
		if err := s.controller.SetIntegratorZone(*body.IntegZoneC); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.IntegLeakS != nil {
		if err := s.controller.SetIntegratorLeakTime(*body.IntegLeakS); err != nil {
			writeError(w, err)
			return
		}
	}
	writeOK(w)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	var body struct {
		Channels []int `json:"channels"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.SetInputChannels(body.Channels); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRelaysPWM(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	var body struct {
		Weights map[string]float64 `json:"weights"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	weights := make(map[int]float64, len(body.Weights))
	for key, weight := range body.Weights {
		relay, err := strconv.Atoi(key)
		if err != nil {
			writeError(w, errs.New(errs.KindInvalidArgument, "relay key %q is not a number", key))
			return
		}
		weights[relay] = weight
	}

	if err := s.controller.SetRelaysPWM(weights); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRelaysRunning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Relay int `json:"relay"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := s.controller.AddRelayWhenRunning(body.Relay); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
	case http.MethodDelete:
		var body struct {
			Relay int `json:"relay"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := s.controller.RemoveRelayWhenRunning(body.Relay); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleDoorOpen(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.controller.OpenDoor(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleDoorClose(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.controller.CloseDoor(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleDoorPreview(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Angle float64 `json:"angle"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := s.controller.SetDoorPreviewAngle(body.Angle); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
	case http.MethodDelete:
		if err := s.controller.ClearDoorPreview(); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleDoorCalibration(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	var body struct {
		ClosedDeg   *float64 `json:"closed_deg,omitempty"`
		OpenDeg     *float64 `json:"open_deg,omitempty"`
		SpeedDegPerS *float64 `json:"speed_deg_s,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if body.ClosedDeg != nil || body.OpenDeg != nil {
		if body.ClosedDeg == nil || body.OpenDeg == nil {
			writeError(w, errs.New(errs.KindInvalidArgument, "closed_deg and open_deg must be set together"))
			return
		}
		if err := s.controller.SetDoorCalibrationAngles(*body.ClosedDeg, *body.OpenDeg); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.SpeedDegPerS != nil {
		if err := s.controller.SetDoorMaxSpeed(*body.SpeedDegPerS); err != nil {
			writeError(w, err)
			return
		}
	}
	writeOK(w)
}

// ===== Profiles =====

func (s *Server) handleProfileUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}

	def, verrs, err := profile.ParseJSON(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "invalid profile",
			"errors": verrs,
		})
		return
	}

	if verrs := s.engine.SetUploadedProfile(def); len(verrs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "invalid profile",
			"errors": verrs,
		})
		return
	}
	writeOK(w)
}

func (s *Server) handleProfileStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Source string `json:"source"`
		Slot   int    `json:"slot"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var err error
	switch body.Source {
	case "uploaded":
		err = s.engine.StartFromUploaded()
	case "slot":
		err = s.engine.StartFromSlot(body.Slot)
	default:
		err = errs.New(errs.KindInvalidArgument, "source must be uploaded or slot")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleProfileCancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.engine.CancelRunning(profile.EndCancelledByUser); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.RuntimeStatus())
}

func (s *Server) handleProfileSlots(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.SlotSummaries())
}

func (s *Server) handleProfileSlot(w http.ResponseWriter, r *http.Request) {
	slotStr := strings.TrimPrefix(r.URL.Path, "/api/profile/slots/")
	slot, err := strconv.Atoi(slotStr)
	if err != nil {
		writeError(w, errs.New(errs.KindInvalidArgument, "slot %q is not a number", slotStr))
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := s.engine.SlotProfile(slot)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := profile.SerializeJSON(def)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPut:
		var raw json.RawMessage
		if !decodeBody(w, r, &raw) {
			return
		}
		def, verrs, err := profile.ParseJSON(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "invalid profile",
				"errors": verrs,
			})
			return
		}
		if err := s.engine.SaveProfileToSlot(slot, def); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)

	case http.MethodDelete:
		if err := s.engine.DeleteSlotProfile(slot); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// ===== Data =====

func (s *Server) handleDataHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.dataLogger.Points())
}

func (s *Server) handleDataExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "oven-data.csv"))
	if err := s.dataLogger.WriteCSV(w); err != nil {
		s.logger.WithError(err).Error("csv export failed")
	}
}
