// Package api exposes the dashboard snapshot and the release command over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/lot"
)

type Dashboard interface {
	Snapshot() lot.Snapshot
	Subscribe(fn func(lot.Snapshot)) func()
	Release(ctx context.Context, id lot.SessionID) (float64, error)
	Dismiss(id string) bool
}

var _ Dashboard = (*lot.Dashboard)(nil)

// NewRouter creates the dashboard router.
func NewRouter(d Dashboard) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/dashboard", getSnapshot(d)).Methods("GET")
	api.HandleFunc("/dashboard/stream", streamSnapshots(d)).Methods("GET")
	api.HandleFunc("/parking/release/{id}", releaseSession(d)).Methods("POST")
	api.HandleFunc("/notifications/{id}", dismissNotification(d)).Methods("DELETE")
	return r
}

type releaseResponse struct {
	Success bool    `json:"success"`
	Fee     float64 `json:"fee,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func getSnapshot(d Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Snapshot())
	}
}

func releaseSession(d Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := lot.SessionID(mux.Vars(r)["id"])
		fee, err := d.Release(r.Context(), id)
		if err != nil {
			writeJSON(w, releaseStatus(err), releaseResponse{Error: lot.ReleaseErrorMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, releaseResponse{Success: true, Fee: fee})
	}
}

func releaseStatus(err error) int {
	var rejected *gateway.RejectedError
	switch {
	case errors.Is(err, lot.ErrReleaseInProgress):
		return http.StatusConflict
	case errors.Is(err, lot.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &rejected):
		if rejected.StatusCode >= 400 && rejected.StatusCode < 500 {
			return rejected.StatusCode
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func dismissNotification(d Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Dismiss(mux.Vars(r)["id"]) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// streamSnapshots sends the current snapshot and then one event per change.
// A slow client only ever receives the newest snapshot.
func streamSnapshots(d Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		updates := make(chan lot.Snapshot, 1)
		unsubscribe := d.Subscribe(func(s lot.Snapshot) {
			for {
				select {
				case updates <- s:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		})
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeEvent(w, d.Snapshot()); err != nil {
			return
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case s := <-updates:
				if err := writeEvent(w, s); err != nil {
					log.Debugf("snapshot stream closed: %s", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, s lot.Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", body)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %s", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("request")
	})
}
