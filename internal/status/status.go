// Package status serves a small read-only HTTP view of a running pipeline.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/andresmejia3/tagvision/internal/pipeline"
	"github.com/andresmejia3/tagvision/internal/types"
)

// Source is what the endpoint reports on. *pipeline.Supervisor satisfies it.
type Source interface {
	Stats() pipeline.Stats
	LastRecord() *types.PoseRecord
}

// NewRouter builds the status routes.
func NewRouter(src Source) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		rec := src.LastRecord()
		if rec == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, rec)
	}).Methods("GET")
	r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Stats())
	}).Methods("GET")
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, src Source) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status endpoint: %w", err)
	}
	srv := &http.Server{
		Handler:           NewRouter(src),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("status endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
