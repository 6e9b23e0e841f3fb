// Package health provides HTTP liveness and readiness handlers for the
// gateway.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. Check returns nil when the
// dependency is healthy.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "room", "pipeline").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Condition builds a [Checker] that fails with reason while ok reports false.
// ok must be safe for concurrent use.
func Condition(name string, ok func() bool, reason string) Checker {
	err := errors.New(reason)
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if ok() {
				return nil
			}
			return err
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Checkers may be added while the
// handler is serving.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

// New creates a [Handler] with the given initial checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{}
	h.Add(checkers...)
	return h
}

// Add registers more checkers. A checker whose name is already registered
// replaces the earlier one.
func (h *Handler) Add(checkers ...Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
next:
	for _, c := range checkers {
		for i := range h.checkers {
			if h.checkers[i].Name == c.Name {
				h.checkers[i] = c
				continue next
			}
		}
		h.checkers = append(h.checkers, c)
	}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request, and returns 200 only when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	errs := make([]error, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(checkers))}
	status := http.StatusOK
	for i, c := range checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
