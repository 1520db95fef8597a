package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	probeTimeout  = 5 * time.Second
	reportTimeout = 10 * time.Second
)

// LivenessHandler answers 200 while the process can serve HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "OK")
	}
}

// ReadinessHandler runs ready and answers with the overall status. Degraded
// is still ready.
func ReadinessHandler(ready Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		report := ready.Run(ctx)
		body := "OK"
		if report.Status != StatusHealthy {
			body = strings.ToUpper(report.Status.String())
		}
		writeText(w, report.Status.HTTPCode(), body)
	}
}

// DetailedHandler answers with the full JSON Report.
func DetailedHandler(detailed Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), reportTimeout)
		defer cancel()

		report := detailed.Run(ctx)
		writeJSON(w, report.Status.HTTPCode(), report)
	}
}

// CheckHandler answers with the Result of the check named by the {name}
// path value.
func CheckHandler(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		result, err := runner.Check(ctx, r.PathValue("name"))
		if errors.Is(err, ErrUnknownCheck) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, result.Status.HTTPCode(), result)
	}
}

// RegisterHandlers mounts /healthz, /readyz, /health and /health/{name}.
// ready backs the readiness probe; detailed backs both reports.
func RegisterHandlers(mux *http.ServeMux, ready, detailed Runner) {
	mux.HandleFunc("GET /healthz", LivenessHandler())
	mux.HandleFunc("GET /readyz", ReadinessHandler(ready))
	mux.HandleFunc("GET /health", DetailedHandler(detailed))
	mux.HandleFunc("GET /health/{name}", CheckHandler(detailed))
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
