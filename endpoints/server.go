// Package endpoints exposes the triage service over HTTP and WebSocket.
package endpoints

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/EasterCompany/dex-triage-service/handlers"
	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
	"github.com/EasterCompany/dex-triage-service/internal/model"
	"github.com/EasterCompany/dex-triage-service/internal/store"
	"github.com/EasterCompany/dex-triage-service/middleware"
)

// ServiceName is reported on /service.
const ServiceName = "dex-triage-service"

// maxBodyBytes caps request bodies on the task routes.
const maxBodyBytes = 1 << 20

// ModelStats is implemented by *model.Client.
type ModelStats interface {
	Stats() model.Stats
}

// Options wires a Server. Store and Model may be nil.
type Options struct {
	Router   *capture.Router
	Executor *handlers.Executor
	Store    *store.Store
	Model    ModelStats

	APIKey  string
	Origins []string
	Now     func() time.Time
	Logger  *slog.Logger
}

type Server struct {
	router   *capture.Router
	executor *handlers.Executor
	store    *store.Store
	model    ModelStats
	apiKey   string
	origins  []string
	now      func() time.Time
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named(logging.LoggerHTTP)
	}
	s := &Server{
		router:   opts.Router,
		executor: opts.Executor,
		store:    opts.Store,
		model:    opts.Model,
		apiKey:   opts.APIKey,
		origins:  opts.Origins,
		now:      opts.Now,
		log:      opts.Logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	auth := middleware.APIKeyAuth(s.apiKey)

	r.Handle("/alert", auth(http.HandlerFunc(s.handleAlert))).Methods(http.MethodPost)
	r.Handle("/run_task", auth(http.HandlerFunc(s.handleRunTask))).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/service", s.handleService).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)

	return middleware.CORS(s.origins)(r)
}

// checkOrigin accepts non-browser clients and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
