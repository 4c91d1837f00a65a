package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dogsight/alert-server/internal/config"
	"github.com/dogsight/alert-server/internal/engine"
	"github.com/dogsight/alert-server/internal/geometry"
	"github.com/dogsight/alert-server/internal/ingest"
	"github.com/dogsight/alert-server/internal/journal"
	"github.com/dogsight/alert-server/internal/liveshare"
	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/internal/notify"
	"github.com/dogsight/alert-server/internal/preview"
	"github.com/dogsight/alert-server/internal/store"
)

var (
	// Command-line flags override environment configuration
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Metrics server address")
	pprofAddr   = flag.String("pprof", "", "pprof server address")
	detectorURL = flag.String("detector", "", "Detector daemon websocket URL")
	webhookURL  = flag.String("webhook", "", "Alert webhook URL")
	userID      = flag.String("user", "", "User id owning this camera")
	dbPath      = flag.String("db", "", "Settings database path")
	journalPath = flag.String("journal-path", "", "Alert journal output path")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	autoStart   = flag.Bool("auto-start", true, "Start monitoring on boot")
)

// Server ties the alert engine to its collaborators
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg        *config.Config
	metrics    *metrics.Metrics
	monitor    *engine.Monitor
	store      *store.Store
	journal    *journal.Journal
	liveshare  *liveshare.Server
	ingest     *ingest.Client
	alerts     *notify.Switch
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg := config.Load()
	applyFlags(cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "DogSight alert server starting...")

	if err := os.MkdirAll(cfg.JournalPath, 0755); err != nil {
		log.Fatalf("Failed to create journal directory: %v", err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if err := srv.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func applyFlags(cfg *config.Config) {
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *pprofAddr != "" {
		cfg.PprofAddr = *pprofAddr
	}
	if *detectorURL != "" {
		cfg.DetectorURL = *detectorURL
	}
	if *webhookURL != "" {
		cfg.WebhookURL = *webhookURL
	}
	if *userID != "" {
		cfg.UserID = *userID
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}

// NewServer wires all components together
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	jnl := journal.New(cfg.JournalPath)

	// Stored settings override the configured webhook, and the alert-enabled
	// preference gates delivery. A user with no stored row keeps alerts on.
	webhookURL := cfg.WebhookURL
	alertEnabled := true
	if cfg.UserID != "" {
		settings, found, err := st.Settings(cfg.UserID)
		if err != nil {
			logger.Warn("Main", "Failed to load settings for %s: %v", cfg.UserID, err)
		} else if found {
			alertEnabled = settings.AlertEnabled
			if settings.WebhookURL != "" {
				webhookURL = settings.WebhookURL
			}
		}
	}

	var sink notify.Sink
	if webhookURL != "" {
		sink = notify.NewWebhook(webhookURL, cfg.UserID, m)
	} else {
		logger.Warn("Main", "No alert webhook configured; notifications will be logged and dropped")
		sink = notify.Nop{}
	}
	alerts := notify.NewSwitch(sink, alertEnabled)
	if !alertEnabled {
		logger.Info("Main", "Alerts disabled for %s; monitoring runs without delivery", cfg.UserID)
	}

	monitor := engine.New(cfg.Engine, notify.Multi{alerts, jnl}, m)

	if cfg.UserID != "" {
		zone, err := st.SafeZone(cfg.UserID)
		if err != nil {
			logger.Warn("Main", "Failed to load safe zone for %s: %v", cfg.UserID, err)
		} else if zone != nil {
			monitor.SetSafeZone(zone)
		}
	}

	live := liveshare.NewServer([]string{cfg.StunServer}, cfg.MaxPeers, m)
	ing := ingest.New(cfg.DetectorURL, monitor, live, m)

	mux := http.NewServeMux()
	srv := &Server{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		metrics:   m,
		monitor:   monitor,
		store:     st,
		journal:   jnl,
		liveshare: live,
		ingest:    ing,
		alerts:    alerts,
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: mux,
		},
	}
	srv.setupRoutes(mux)

	return srv, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "  pprof server: %s", s.cfg.PprofAddr)
	logger.Info("Main", "  Detector: %s", s.cfg.DetectorURL)

	go func() {
		if err := http.ListenAndServe(s.cfg.PprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()

	go func() {
		if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ingest.Run(s.ctx)
	}()

	if *autoStart {
		if _, err := s.monitor.Start(s.cfg.UserID); err != nil {
			return err
		}
	}

	logger.Info("Main", "Server started")
	return nil
}

// setupRoutes sets up HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// CORS middleware for the companion app
	cors := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", cors(s.handleStatus))
	mux.HandleFunc("/api/monitor/start", cors(s.handleMonitorStart))
	mux.HandleFunc("/api/monitor/stop", cors(s.handleMonitorStop))
	mux.HandleFunc("/api/zone", cors(s.handleZone))
	mux.HandleFunc("/api/zone/preview", cors(s.handleZonePreview))
	mux.HandleFunc("/api/settings", cors(s.handleSettings))
	mux.HandleFunc("/api/tracks", cors(s.handleTracks))
	mux.HandleFunc("/api/journal/start", cors(s.handleJournalStart))
	mux.HandleFunc("/api/journal/stop", cors(s.handleJournalStop))
	mux.HandleFunc("/api/journal/status", cors(s.handleJournalStatus))
	mux.HandleFunc("/offer", cors(s.handleOffer))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"monitoring":     status.Running,
		"zone_defined":   status.ZoneVertices >= 3,
		"live_peers":     s.liveshare.PeerCount(),
		"journal_active": s.journal.IsActive(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"monitor":   s.monitor.Status(),
		"journal":   s.journal.Status(),
		"timestamp": float64(time.Now().Unix()),
	})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Target string `json:"target"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means default target
	}
	if req.Target == "" {
		req.Target = s.cfg.UserID
	}

	sessionID, err := s.monitor.Start(req.Target)
	if err != nil {
		writeJSONStatus(w, map[string]interface{}{"error": err.Error()}, http.StatusConflict)
		return
	}
	s.journal.Append("session_start", sessionID)
	writeJSON(w, map[string]interface{}{"session_id": sessionID})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.journal.Append("session_stop", s.monitor.Status().SessionID)
	s.monitor.Stop()
	writeJSON(w, map[string]interface{}{"stopped": true})
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]interface{}{"polygon": s.monitor.SafeZone()})

	case http.MethodPost:
		var req struct {
			Polygon geometry.Polygon `json:"polygon"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONStatus(w, map[string]interface{}{"error": "invalid polygon payload"}, http.StatusBadRequest)
			return
		}

		s.monitor.SetSafeZone(req.Polygon)
		if s.cfg.UserID != "" {
			if err := s.store.SaveSafeZone(s.cfg.UserID, s.monitor.SafeZone()); err != nil {
				logger.Warn("HTTP", "Failed to persist safe zone: %v", err)
			}
		}
		s.journal.Append("zone_update", fmt.Sprintf("%d vertices", len(req.Polygon)))
		writeJSON(w, map[string]interface{}{"saved": true, "vertices": len(req.Polygon)})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]interface{}{
			"user_id":       s.cfg.UserID,
			"alert_enabled": s.alerts.Enabled(),
		})

	case http.MethodPost:
		var req struct {
			AlertEnabled bool    `json:"alert_enabled"`
			WebhookURL   *string `json:"webhook_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONStatus(w, map[string]interface{}{"error": "invalid settings payload"}, http.StatusBadRequest)
			return
		}

		s.alerts.SetEnabled(req.AlertEnabled)
		if req.WebhookURL != nil && *req.WebhookURL != "" {
			s.alerts.SetSink(notify.NewWebhook(*req.WebhookURL, s.cfg.UserID, s.metrics))
		}

		if s.cfg.UserID != "" {
			settings, _, err := s.store.Settings(s.cfg.UserID)
			if err != nil {
				logger.Warn("HTTP", "Failed to load settings: %v", err)
				settings = store.Settings{UserID: s.cfg.UserID}
			}
			settings.AlertEnabled = req.AlertEnabled
			if req.WebhookURL != nil {
				settings.WebhookURL = *req.WebhookURL
			}
			if err := s.store.SaveSettings(settings); err != nil {
				logger.Warn("HTTP", "Failed to persist settings: %v", err)
			}
		}

		s.journal.Append("settings_update", fmt.Sprintf("alert_enabled=%v", req.AlertEnabled))
		writeJSON(w, map[string]interface{}{"saved": true, "alert_enabled": req.AlertEnabled})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleZonePreview(w http.ResponseWriter, r *http.Request) {
	cfg := s.monitor.Config()
	data, err := preview.RenderZone(s.monitor.SafeZone(), cfg.RefWidth, cfg.RefHeight)
	if err != nil {
		http.Error(w, "Failed to render preview", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"tracks": s.monitor.Tracks()})
}

func (s *Server) handleJournalStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.journal.Start(); err != nil {
		writeJSONStatus(w, map[string]interface{}{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, s.journal.Status())
}

func (s *Server) handleJournalStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.journal.Stop(); err != nil {
		writeJSONStatus(w, map[string]interface{}{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, s.journal.Status())
}

func (s *Server) handleJournalStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.journal.Status())
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.liveshare.HandleOffer(offerJSON)
	if err != nil {
		logger.Warn("HTTP", "Live-share offer error: %v", err)
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answerJSON)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	writeJSONStatus(w, payload, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, payload interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.cancel()
	s.wg.Wait()

	s.monitor.Stop()
	s.journal.Close()
	s.liveshare.Close()
	if err := s.store.Close(); err != nil {
		logger.Warn("Main", "Error closing settings store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
