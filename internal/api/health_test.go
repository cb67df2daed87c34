package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name       string
		health     *HealthHandler
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all up",
			health:     NewHealthHandler("test", "v1").Require("postgres", ok).Optional("redis", ok),
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "optional down",
			health:     NewHealthHandler("test", "v1").Require("postgres", ok).Optional("redis", down),
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "required down",
			health:     NewHealthHandler("test", "v1").Require("postgres", down).Optional("kafka", down),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.health.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			resp := decodeBody[ReadinessResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "v1", resp.Version)
			assert.Len(t, resp.Dependencies, 2)
		})
	}
}
