// Package server assembles the ganyd HTTP routes and starts the server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/wire"
)

// cleanupInterval is how often stale wire sessions are swept.
const cleanupInterval = time.Minute

// Config holds server configuration.
type Config struct {
	Addr          string
	Store         *memremote.Server
	SchemaSource  []byte
	SessionMaxAge time.Duration
	SessionIdle   time.Duration
}

// BaseSchema is one base and its field templates as served by the schema
// endpoint.
type BaseSchema struct {
	schema.Base
	Fields []schema.FieldTemplate `json:"fields"`
}

// Router returns the ganyd routes and the wire session manager behind
// them.
func Router(cfg Config) (http.Handler, *wire.Manager) {
	sessions := wire.NewManager(cfg.SessionMaxAge, cfg.SessionIdle)
	ws := wire.NewHandler(sessions, func() remote.Session { return cfg.Store.NewSession() })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": sessions.Len()})
	})

	r.Route("/api/ganymede", func(r chi.Router) {
		r.Get("/ws", ws.ServeHTTP)

		r.Get("/schema", func(w http.ResponseWriter, r *http.Request) {
			out, err := describe(r.Context(), cfg.Store)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "schema_error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/schema.cue", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write(cfg.SchemaSource)
		})
	})
	return r, sessions
}

// describe lists every base with its templates.
func describe(ctx context.Context, store *memremote.Server) ([]BaseSchema, error) {
	sess := store.NewSession()
	bases, err := sess.Bases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BaseSchema, 0, len(bases))
	for _, b := range bases {
		fields, err := sess.FieldTemplates(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BaseSchema{Base: b, Fields: fields})
	}
	return out, nil
}

// Run starts the HTTP server and blocks until ctx is done or the server
// fails.
func Run(ctx context.Context, cfg Config) error {
	handler, sessions := Router(cfg)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
				return
			case <-ticker.C:
				sessions.Cleanup()
			}
		}
	}()

	glog.Infof("server: listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLog logs each request at verbosity 1.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		glog.V(1).Infof("server: %s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("server: encoding response: %v", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
