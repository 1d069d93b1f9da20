package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/LIT-Protocol/morphomax/internal/jobs"
	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/state"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for schedule management and reporting
type WebServer struct {
	router  *mux.Router
	port    string
	manager *jobs.Manager
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, manager *jobs.Manager) (*WebServer, error) {
	if manager == nil {
		return nil, errors.New("job manager cannot be nil")
	}
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		manager: manager,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/schedules", ws.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedules/balances", ws.handleScheduleBalances).Methods("GET")
	api.HandleFunc("/schedules/{wallet}", ws.handleGetSchedule).Methods("GET")
	api.HandleFunc("/schedules/{wallet}", ws.handleCancelSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{wallet}/swaps", ws.handleGetSwaps).Methods("GET")
	api.HandleFunc("/strategies/top", ws.handleTopStrategy).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if state.DB == nil || state.DB.Ping() != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	if !dbHealthy {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "morphomax-yield-scheduler",
			"version": "1.0.0",
		},
		"database": map[string]interface{}{
			"healthy": dbHealthy,
		},
	}

	statusCode := http.StatusOK
	if !dbHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

type createScheduleRequest struct {
	PKPInfo        types.PKPInfo `json:"pkpInfo"`
	RepeatInterval string        `json:"repeatInterval"`
	ScheduleExpr   string        `json:"scheduleExpr"`
}

// handleCreateSchedule creates or reactivates the wallet's schedule
func (ws *WebServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := ws.manager.CreateJob(r.Context(), req.PKPInfo, req.RepeatInterval, req.ScheduleExpr)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrMissingWalletAddress),
			errors.Is(err, types.ErrMissingPublicKey),
			errors.Is(err, types.ErrMissingTokenID):
			ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrPermissionRevoked),
			errors.Is(err, jobs.ErrIncompatibleVersion):
			ws.writeErrorResponse(w, http.StatusConflict, err.Error())
		default:
			webLogger.Error().Err(err).Msg("Failed to create schedule")
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to create schedule")
		}
		return
	}

	ws.writeJSONResponse(w, http.StatusCreated, job)
}

// handleGetSchedule returns the wallet's schedule with live balances
func (ws *WebServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	view, err := ws.manager.GetScheduleByWallet(r.Context(), wallet)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "No schedule for wallet "+wallet)
			return
		}
		webLogger.Error().Err(err).Str("wallet", wallet).Msg("Failed to get schedule")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get schedule")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, view)
}

// handleCancelSchedule disables the wallet's schedule and liquidates its
// positions. Cancelling a wallet with no schedule still succeeds, but the
// response says no schedule was found.
func (ws *WebServer) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	job, record, err := ws.manager.CancelJob(r.Context(), wallet)
	if err != nil {
		webLogger.Error().Err(err).Str("wallet", wallet).Msg("Failed to cancel schedule")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to cancel schedule")
		return
	}
	if job == nil {
		ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"cancelled": false,
			"wallet":    wallet,
			"message":   "No schedule for wallet",
		})
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"cancelled": true,
		"wallet":    wallet,
		"schedule":  job,
		"finalSwap": record,
	})
}

// handleGetSwaps returns the wallet's swap history, newest first
func (ws *WebServer) handleGetSwaps(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	limit := parseQueryInt(r, "limit", 20)
	skip := parseQueryInt(r, "skip", 0)

	records, err := ws.manager.GetSwapHistory(wallet, limit, skip)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "No swaps recorded for wallet "+wallet)
			return
		}
		webLogger.Error().Err(err).Str("wallet", wallet).Msg("Failed to get swap history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get swap history")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, records)
}

// handleScheduleBalances returns every active schedule with live balances
func (ws *WebServer) handleScheduleBalances(w http.ResponseWriter, r *http.Request) {
	views, err := ws.manager.ListScheduleBalances(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list schedule balances")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list schedule balances")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, views)
}

// handleTopStrategy returns the current best vault for the deposit asset
func (ws *WebServer) handleTopStrategy(w http.ResponseWriter, r *http.Request) {
	vault, err := ws.manager.GetTopStrategy(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get top strategy")
		ws.writeErrorResponse(w, http.StatusBadGateway, "Failed to get top strategy")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, vault)
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
