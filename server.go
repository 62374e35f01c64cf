package daqkit

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const httpTimeoutsMs = 15000

type statusResponse struct {
	State       string `json:"state"`
	IsLogging   bool   `json:"is_logging"`
	CurrentFile string `json:"current_file"`
	Message     string `json:"message"`
}

type channelsPayload struct {
	LoadCells           []*LoadCell
	PressureTransducers []*PressureTransducer
	Rtds                []*RTD
}

// Router builds the HTTP control surface over the manager.
func (dk *DaqKit) Router() *httprouter.Router {
	router := httprouter.New()

	router.GET("/api/status", dk.handleStatus)
	router.GET("/api/latest", dk.handleLatest)
	router.GET("/api/system", dk.handleSystem)

	router.POST("/api/monitoring/start", dk.handleMonitoringStart)
	router.POST("/api/monitoring/stop", dk.handleMonitoringStop)
	router.POST("/api/logging/start", dk.handleLoggingStart)
	router.POST("/api/logging/stop", dk.handleLoggingStop)

	router.GET("/api/channels", dk.handleChannelsGet)
	router.POST("/api/channels", dk.handleChannelsSet)

	router.GET("/data/:filename", dk.handleDownload)

	return router
}

// StartServer serves the control surface on addr. It blocks until the
// server stops.
func (dk *DaqKit) StartServer(addr string) error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	server := &http.Server{
		Addr:              addr,
		Handler:           dk.Router(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	return errors.Wrap(server.ListenAndServe(), "http server stopped")
}

func writeJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJsonError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, map[string]string{"error": err.Error()})
}

func (dk *DaqKit) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJson(w, http.StatusOK, statusResponse{
		State:       dk.CurrentState().String(),
		IsLogging:   dk.IsLogging(),
		CurrentFile: dk.CurrentFilename(),
		Message:     dk.StatusMessage(),
	})
}

func (dk *DaqKit) handleLatest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJson(w, http.StatusOK, dk.LatestSnapshot())
}

func (dk *DaqKit) handleSystem(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	info, err := ReadSystemInfo()
	if err != nil {
		writeJsonError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, info)
}

func (dk *DaqKit) handleMonitoringStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := dk.StartMonitoring()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotInitialized) {
			status = http.StatusServiceUnavailable
		}
		writeJsonError(w, status, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]string{"message": "monitoring started"})
}

func (dk *DaqKit) handleMonitoringStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := dk.StopMonitoring(); err != nil {
		writeJsonError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]string{"message": "monitoring stopped"})
}

func (dk *DaqKit) handleLoggingStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filename, err := dk.StartLogging()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrAlreadyLogging) || errors.Is(err, ErrNotMonitoring) {
			status = http.StatusBadRequest
		}
		writeJsonError(w, status, err)
		return
	}
	writeJson(w, http.StatusCreated, map[string]string{"message": "logging started", "filename": filename})
}

func (dk *DaqKit) handleLoggingStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filename, err := dk.StopLogging()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotLogging) {
			status = http.StatusBadRequest
		}
		writeJsonError(w, status, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]string{"message": "logging stopped", "filename": filename})
}

func (dk *DaqKit) handleChannelsGet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	dk.mu.Lock()
	payload := channelsPayload{
		LoadCells:           dk.LoadCells,
		PressureTransducers: dk.PressureTransducers,
		Rtds:                dk.Rtds,
	}
	dk.mu.Unlock()

	writeJson(w, http.StatusOK, payload)
}

// handleChannelsSet replaces the channel table; the new table applies to
// the next monitoring start.
func (dk *DaqKit) handleChannelsSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload channelsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJsonError(w, http.StatusBadRequest, errors.Wrap(err, "failed to decode channel config"))
		return
	}

	err := dk.SetChannels(payload.LoadCells, payload.PressureTransducers, payload.Rtds)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBusy) {
			status = http.StatusConflict
		}
		writeJsonError(w, status, err)
		return
	}

	writeJson(w, http.StatusOK, map[string]string{"message": "channel config updated, used on next start"})
}

func (dk *DaqKit) handleDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// base-name only, no directory escapes
	filename := filepath.Base(params.ByName("filename"))
	if filename == "." || filename == string(filepath.Separator) {
		writeJsonError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	http.ServeFile(w, r, filepath.Join(dk.DataDir, filename))
}
