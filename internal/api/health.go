package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type dependency struct {
	name     string
	check    Check
	required bool
}

type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

func NewHealthHandler(env, version string) *HealthHandler {
	return &HealthHandler{env: env, version: version}
}

// Require registers a dependency whose failure makes the service unready.
func (h *HealthHandler) Require(name string, c Check) *HealthHandler {
	h.deps = append(h.deps, dependency{name: name, check: c, required: true})
	return h
}

// Optional registers a dependency whose failure only degrades the service.
func (h *HealthHandler) Optional(name string, c Check) *HealthHandler {
	h.deps = append(h.deps, dependency{name: name, check: c})
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.deps))
	status := "ok"

	sorted := append([]dependency(nil), h.deps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].required && !sorted[j].required })

	for _, d := range sorted {
		depCtx, depCancel := context.WithTimeout(ctx, time.Second)
		err := d.check(depCtx)
		depCancel()

		if err == nil {
			deps[d.name] = "ok"
			continue
		}
		deps[d.name] = "down"
		switch {
		case d.required:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, resp)
}
