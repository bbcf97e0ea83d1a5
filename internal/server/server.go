// Package server exposes the job queue over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/jobs"
	"github.com/Faultbox/aobake/internal/logger"
)

// Queue is the part of jobs.Queue the server uses.
type Queue interface {
	Enqueue(args jobs.Args) string
	Query(id string) (jobs.Job, bool)
	List() []jobs.Job
	Subscribe() (<-chan []jobs.Job, func())
}

// Cleaner removes baked results. pipeline.Pipeline implements it.
type Cleaner interface {
	Cleanup() (int, error)
}

// Options configures a Server.
type Options struct {
	// OutputDir is where result files are served from.
	OutputDir string
	// Resolution is used for requests that do not name one.
	Resolution int
}

// Server routes HTTP requests to the queue.
type Server struct {
	queue    Queue
	cleaner  Cleaner
	opts     Options
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates a server. cleaner may be nil, which turns /removeResults/
// into a no-op.
func New(queue Queue, cleaner Cleaner, opts Options) *Server {
	if opts.Resolution <= 0 {
		opts.Resolution = 1024
	}
	s := &Server{
		queue:   queue,
		cleaner: cleaner,
		opts:    opts,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Named("server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /bakeFile/{file...}", s.handleBakeFile)
	s.mux.HandleFunc("POST /bakeUrl/", s.handleBakeURL)
	s.mux.HandleFunc("POST /bakeDirect/", s.handleBakeDirect)
	s.mux.HandleFunc("GET /pullState/{jobId}", s.handlePullState)
	s.mux.HandleFunc("GET /pullAll/", s.handlePullAll)
	s.mux.HandleFunc("GET /getImage/{jobId}", s.handleGetImage)
	s.mux.HandleFunc("GET /getFile/{file...}", s.handleGetFile)
	s.mux.HandleFunc("GET /removeResults/", s.handleRemoveResults)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "PUT, GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, X-Requested-With, X-CSRF-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

type jobIDBody struct {
	JobID string `json:"jobId"`
}

func (s *Server) enqueue(w http.ResponseWriter, args jobs.Args) {
	id := s.queue.Enqueue(args)
	writeJSON(w, http.StatusOK, jobIDBody{JobID: id})
}

func (s *Server) handleBakeFile(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, jobs.Args{
		"file":       r.PathValue("file"),
		"resolution": s.opts.Resolution,
	})
}

func (s *Server) handleBakeURL(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	u := params.String("url")
	if u == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No url found in POST request in bakeUrl/"})
		return
	}
	s.enqueue(w, jobs.Args{
		"url":        u,
		"resolution": params.Int("resolution", s.opts.Resolution),
	})
}

func (s *Server) handleBakeDirect(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	content := params["igxcContent"]
	if str, ok := content.(string); ok {
		if str == "" || str == "null" {
			content = nil
		} else {
			var v any
			dec := json.NewDecoder(strings.NewReader(str))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				writeJSON(w, http.StatusOK, errorBody{Error: "igxcContent couldn't be parsed"})
				return
			}
			content = v
		}
	}
	if content == nil {
		writeJSON(w, http.StatusOK, errorBody{Error: "No igxcContent found in POST request in bakeDirect/"})
		return
	}

	args := jobs.Args{
		"igxcContent": content,
		"resolution":  params.Int("resolution", s.opts.Resolution),
	}
	if base := params.String("basePath"); base != "" {
		args["basePath"] = base
	}
	s.enqueue(w, args)
}

func (s *Server) handlePullState(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Query(r.PathValue("jobId"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"state": "undefined"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePullAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Query(r.PathValue("jobId"))
	if !ok || job.State != jobs.Finished || job.Result == nil || job.URLAoMapImage == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFileFS(w, r, os.DirFS(s.opts.OutputDir), job.URLAoMapImage)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(name)+`"`)
	http.ServeFileFS(w, r, os.DirFS(s.opts.OutputDir), name)
}

func (s *Server) handleRemoveResults(w http.ResponseWriter, r *http.Request) {
	removed := 0
	if s.cleaner != nil {
		n, err := s.cleaner.Cleanup()
		removed = n
		if err != nil {
			s.log.Warn("results not fully removed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleWS streams the job list on every state change.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.queue.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.queue.List()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snapshot := <-updates:
			if err := conn.WriteJSON(snapshot); err != nil {
				s.log.Debug("websocket closed", zap.Error(err))
				return
			}
		}
	}
}
