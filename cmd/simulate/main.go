package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logging"
)

// SimConfig is read from SIM_* variables. A small TargetLimit keeps many
// workers racing for the same slots.
type SimConfig struct {
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration      time.Duration `envconfig:"DURATION" default:"30s"`
	Workers       int           `envconfig:"WORKERS" default:"20"`
	BookingRatio  float64       `envconfig:"BOOKING_RATIO" default:"0.6"`
	CancelRatio   float64       `envconfig:"CANCEL_RATIO" default:"0.1"`
	ReadRatio     float64       `envconfig:"READ_RATIO" default:"0.3"`
	CustomerLimit int           `envconfig:"CUSTOMER_LIMIT" default:"2000"`
	TargetLimit   int           `envconfig:"TARGET_LIMIT" default:"10"`
	PostgresDSN   string        `ignored:"true"`
}

// target is one contended slot: a provider, an appointment type it offers
// and a fixed date and start time.
type target struct {
	TypeID       uuid.UUID
	ProviderKind string
	ProviderID   uuid.UUID
	Date         time.Time
	StartTime    string
	MaxPerSlot   int
	Questions    []booking.Question
}

type created struct {
	ID       uuid.UUID
	Customer uuid.UUID
}

type DataPool struct {
	Customers []uuid.UUID
	Targets   []target

	mu       sync.RWMutex
	bookings []created
}

func (dp *DataPool) AddBooking(c created) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, c)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (created, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return created{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	ReadByID     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	cfg, logger := loadConfig()
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded", zap.Int("customers", len(dataPool.Customers)), zap.Int("targets", len(dataPool.Targets)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	violations, err := verifyCapacity(verifyCtx, pgPool)
	if err != nil {
		logger.Fatal("verify capacity", zap.Error(err))
	}
	if len(violations) > 0 {
		for _, v := range violations {
			logger.Error("slot overbooked",
				zap.String("booking_id", v.BookingID.String()),
				zap.Int("seats", v.Seats),
				zap.Int("max", v.Max),
			)
		}
		os.Exit(1)
	}
	logger.Info("capacity invariant holds")
}

func loadConfig() (SimConfig, *zap.Logger) {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		logger.Fatal("process SIM_* env", zap.Error(err))
	}
	cfg.PostgresDSN = baseCfg.PostgresDSN
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		logger.Fatal("SIM_WORKERS and SIM_DURATION must be > 0")
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, logger
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'customer' AND is_active LIMIT $1
	`, cfg.CustomerLimit)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	dataPool.Customers, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	// One candidate per (type, provider): the provider's first working day at
	// least two days out, at its opening time.
	rows, err = pool.Query(ctx, `
		SELECT t.id, p.kind, p.id, t.max_bookings_per_slot, t.questions,
		       wh.day_of_week, to_char(wh.start_time, 'HH24:MI')
		FROM appointment_types t
		JOIN providers p ON p.organizer_id = t.organizer_id AND p.is_active
		JOIN working_hours wh ON wh.scope_type = p.kind AND wh.scope_id = p.id AND wh.is_working
		WHERE t.is_active AND t.max_advance_booking_days >= 9
		ORDER BY t.id, p.id, wh.day_of_week
	`)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	defer rows.Close()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			tg        target
			questions []byte
			dow       int
		)
		if err := rows.Scan(&tg.TypeID, &tg.ProviderKind, &tg.ProviderID, &tg.MaxPerSlot, &questions, &dow, &tg.StartTime); err != nil {
			return nil, err
		}
		key := tg.TypeID.String() + tg.ProviderID.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		if err := json.Unmarshal(questions, &tg.Questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		tg.Date = nextWeekday(today.AddDate(0, 0, 2), time.Weekday(dow))
		dataPool.Targets = append(dataPool.Targets, tg)
		if len(dataPool.Targets) >= cfg.TargetLimit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Customers) == 0 {
		return nil, fmt.Errorf("no customers loaded, run cmd/seed first")
	}
	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no bookable targets loaded")
	}
	return dataPool, nil
}

func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	return from.AddDate(0, 0, (int(wd)-int(from.Weekday())+7)%7)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case rng.Intn(2) == 0:
				s.doAvailability(ctx, rng)
			default:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

// send issues one request and returns the status code, or 0 on transport
// error.
func (s *Simulator) send(ctx context.Context, method, path string, requester uuid.UUID, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if requester != uuid.Nil {
		req.Header.Set("X-User-ID", requester.String())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	tg := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	customer := s.pool.Customers[rng.Intn(len(s.pool.Customers))]

	answers := make(map[string]string, len(tg.Questions))
	for _, q := range tg.Questions {
		answers[q.ID] = "simulated"
	}

	start := time.Now()
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	code := s.send(ctx, http.MethodPost, "/bookings/", customer, map[string]any{
		"appointment_type_id": tg.TypeID,
		"provider_kind":       tg.ProviderKind,
		"provider_id":         tg.ProviderID,
		"date":                tg.Date.Format(time.DateOnly),
		"start_time":          tg.StartTime,
		"answers":             answers,
	}, &resp)

	if code == http.StatusCreated && resp.ID != uuid.Nil {
		s.pool.AddBooking(created{ID: resp.ID, Customer: customer})
	}
	s.metrics.Booking.Record(time.Since(start), code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	code := s.send(ctx, http.MethodPost, "/bookings/"+b.ID.String()+"/cancel", b.Customer,
		map[string]string{"reason": "simulated"}, nil)

	// cancelling twice or past the deadline is an expected rejection
	rejected := code == http.StatusConflict || code == http.StatusUnprocessableEntity
	s.metrics.Cancel.Record(time.Since(start), code == http.StatusOK, rejected)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	tg := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	path := fmt.Sprintf("/availability?scope_type=%s&scope_id=%s&date=%s&appointment_type_id=%s",
		tg.ProviderKind, tg.ProviderID, tg.Date.Format(time.DateOnly), tg.TypeID)
	code := s.send(ctx, http.MethodGet, path, uuid.Nil, nil, nil)

	s.metrics.Availability.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	code := s.send(ctx, http.MethodGet, "/bookings/"+b.ID.String(), uuid.Nil, nil, nil)

	s.metrics.ReadByID.Record(time.Since(start), code == http.StatusOK, false)
}

type violation struct {
	BookingID uuid.UUID
	Seats     int
	Max       int
}

// verifyCapacity finds active bookings whose overlapping active seats exceed
// the appointment type's per-slot maximum.
func verifyCapacity(ctx context.Context, pool *pgxpool.Pool) ([]violation, error) {
	rows, err := pool.Query(ctx, `
		SELECT b.id, sum(o.capacity)::int, t.max_bookings_per_slot
		FROM bookings b
		JOIN appointment_types t ON t.id = b.appointment_type_id
		JOIN bookings o
		  ON o.provider_kind = b.provider_kind
		 AND o.provider_id = b.provider_id
		 AND o.status <> 'CANCELLED'
		 AND o.start_time < b.end_time
		 AND o.end_time > b.start_time
		WHERE b.status <> 'CANCELLED'
		GROUP BY b.id, t.max_bookings_per_slot
		HAVING sum(o.capacity) > t.max_bookings_per_slot
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (violation, error) {
		var v violation
		err := row.Scan(&v.BookingID, &v.Seats, &v.Max)
		return v, err
	})
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}
