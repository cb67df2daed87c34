package booking

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-engine/internal/schedule"
)

func TestBuildBookingQuery(t *testing.T) {
	customer := uuid.New()
	provider := schedule.Resource(uuid.New())
	status := StatusConfirmed
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	tests := []struct {
		name      string
		filter    BookingFilter
		wantWhere []string
		wantArgs  []any
	}{
		{
			name:     "no filters",
			filter:   BookingFilter{Limit: 20},
			wantArgs: []any{20, 0},
		},
		{
			name:      "customer and status",
			filter:    BookingFilter{CustomerID: &customer, Status: &status, Limit: 5, Offset: 10},
			wantWhere: []string{"customer_id = $1", "status = $2"},
			wantArgs:  []any{customer, "CONFIRMED", 5, 10},
		},
		{
			name:      "provider and range",
			filter:    BookingFilter{Provider: &provider, From: &from, To: &to, Limit: 100},
			wantWhere: []string{"provider_kind = $1", "provider_id = $2", "start_time >= $3", "start_time < $4"},
			wantArgs:  []any{"resource", provider.ID, from, to, 100, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildBookingQuery(tt.filter)

			if len(tt.wantWhere) == 0 {
				assert.NotContains(t, query, "WHERE")
			}
			for _, cond := range tt.wantWhere {
				assert.Contains(t, query, cond)
			}
			n := len(tt.wantArgs)
			assert.True(t, strings.HasSuffix(query, "LIMIT $"+strconv.Itoa(n-1)+" OFFSET $"+strconv.Itoa(n)), query)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildBookingQueryNeverInlinesValues(t *testing.T) {
	status := Status("CONFIRMED' OR 1=1 --")
	query, args := buildBookingQuery(BookingFilter{Status: &status, Limit: 1})

	assert.NotContains(t, query, "OR 1=1")
	assert.Equal(t, string(status), args[0])
}

func TestPrefixedColumns(t *testing.T) {
	assert.Equal(t, "b.id, b.status", prefixed("b.", "id,\n\tstatus"))
}

func TestPgDate(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	d := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), pgDate(d))
}
