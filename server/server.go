// Package server is the HTTP surface of the gateway. Every request is
// converted into a service request and dispatched through the service
// registry; the server itself holds no business logic.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/agroforward/srvreg"
)

// WebServer handles HTTP requests for the contract gateway
type WebServer struct {
	httpAddr        string
	server          *http.Server
	serviceRegistry *srvreg.ServiceRegistry
	logger          cmtlog.Logger
	startTime       time.Time
}

// NewWebServer creates a new gateway web server
func NewWebServer(httpPort string, serviceRegistry *srvreg.ServiceRegistry, logger cmtlog.Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:         ":" + httpPort,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		serviceRegistry: serviceRegistry,
		logger:          logger,
		startTime:       time.Now(),
	}

	// Register routes
	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/contracts", ws.handleAPI)
	mux.HandleFunc("/contracts/", ws.handleAPI)
	mux.HandleFunc("/status", ws.handleAPI)
	mux.HandleFunc("/predict", ws.handleAPI)
	mux.HandleFunc("/historical", ws.handleAPI)
	mux.HandleFunc("/prices", ws.handleAPI)

	return ws
}

// Start starts the gateway web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting gateway web server", "address", ws.httpAddr)

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("Web server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down gateway web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows gateway information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := map[string]any{
		"service": "AgroForward Contract Gateway",
		"uptime":  time.Since(ws.startTime).Round(time.Second).String(),
		"endpoints": []string{
			"POST /contracts",
			"POST /contracts/:id/sign",
			"GET  /contracts/:id",
			"GET  /contracts/farmer/:address",
			"GET  /contracts/buyer/:address",
			"GET  /status",
			"POST /predict",
			"GET  /historical?commodity=&days=",
			"POST /prices",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(info)
}

// handleAPI dispatches a request through the service registry
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	req, err := srvreg.ConvertHttpRequestToServiceRequest(r, requestID)
	if err != nil {
		jsonError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	response, err := req.GenerateResponse(r.Context(), ws.serviceRegistry)
	if err != nil {
		ws.logger.Error("Error generating response", "err", err, "request_id", requestID)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeResponse(w, response)
}

// writeResponse writes a Response to http.ResponseWriter
func writeResponse(w http.ResponseWriter, resp *srvreg.Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(buf)
}
