package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logging"
)

var services = []string{
	"Initial consultation",
	"Follow-up visit",
	"Physiotherapy session",
	"Dental cleaning",
	"Hair cut",
	"Massage",
	"Group yoga class",
	"Meeting room hire",
	"Tennis court",
	"Tax advice",
}

var questionBank = []booking.Question{
	{ID: "reason", Label: "Reason for visit", Required: true},
	{ID: "phone", Label: "Phone number", Required: true},
	{ID: "notes", Label: "Anything we should know?"},
	{ID: "referral", Label: "How did you hear about us?"},
}

func main() {
	organizers := flag.Int("organizers", 20, "number of organizers")
	customers := flag.Int("customers", 2000, "number of customers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplySchema(context.Background(), pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	for i := 0; i < *organizers; i++ {
		if err := seedOrganizer(context.Background(), pool); err != nil {
			logger.Fatal("seed organizer", zap.Error(err))
		}
	}
	logger.Info("organizers seeded", zap.Int("count", *organizers))

	if err := seedCustomers(context.Background(), pool, logger, *customers); err != nil {
		logger.Fatal("seed customers", zap.Error(err))
	}

	logger.Info("seed complete")
}

func fakeEmail(id uuid.UUID) string {
	return fmt.Sprintf("%s.%s@example.com", gofakeit.Username(), id.String()[:8])
}

func insertUser(ctx context.Context, tx pgx.Tx, role booking.Role) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
	`, id, gofakeit.Name(), fakeEmail(id), string(role))
	return id, err
}

// seedOrganizer creates one organizer with staff, resources, appointment
// types and weekday working hours for each provider.
func seedOrganizer(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	orgID, err := insertUser(ctx, tx, booking.RoleOrganizer)
	if err != nil {
		return fmt.Errorf("insert organizer: %w", err)
	}

	var providers []struct {
		kind string
		id   uuid.UUID
	}
	for _, p := range []struct {
		kind  string
		count int
		name  func() string
	}{
		{"staff", gofakeit.Number(1, 4), gofakeit.Name},
		{"resource", gofakeit.Number(0, 2), func() string { return "Room " + gofakeit.Word() }},
	} {
		for i := 0; i < p.count; i++ {
			id := uuid.New()
			if _, err := tx.Exec(ctx, `
				INSERT INTO providers (kind, id, organizer_id, name)
				VALUES ($1, $2, $3, $4)
			`, p.kind, id, orgID, p.name()); err != nil {
				return fmt.Errorf("insert provider: %w", err)
			}
			providers = append(providers, struct {
				kind string
				id   uuid.UUID
			}{p.kind, id})
		}
	}

	// Mon-Fri, with a random opening hour between 07:00 and 10:00
	for _, p := range providers {
		open := gofakeit.Number(7, 10)
		for dow := 1; dow <= 5; dow++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO working_hours (scope_type, scope_id, day_of_week, is_working, start_time, end_time)
				VALUES ($1, $2, $3, true, make_time($4, 0, 0), make_time($5, 0, 0))
			`, p.kind, p.id, dow, open, open+8); err != nil {
				return fmt.Errorf("insert working hours: %w", err)
			}
		}
	}

	for i, n := 0, gofakeit.Number(1, 3); i < n; i++ {
		if err := insertAppointmentType(ctx, tx, orgID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertAppointmentType(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) error {
	policyID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO cancellation_policies (id, allow_cancellation, cancellation_deadline_hours, refund_percentage, cancellation_fee)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric)
	`, policyID,
		gofakeit.Number(0, 9) > 0,
		gofakeit.RandomInt([]int{0, 12, 24, 48}),
		fmt.Sprintf("%d", gofakeit.RandomInt([]int{50, 80, 100})),
		fmt.Sprintf("%d.00", gofakeit.Number(0, 15)),
	); err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}

	var questions []booking.Question
	for _, q := range questionBank {
		if gofakeit.Bool() {
			questions = append(questions, q)
		}
	}
	if questions == nil {
		questions = []booking.Question{}
	}
	qs, err := json.Marshal(questions)
	if err != nil {
		return err
	}

	requiresPayment := gofakeit.Bool()
	price := "0.00"
	if requiresPayment {
		price = fmt.Sprintf("%.2f", gofakeit.Price(20, 250))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_types (
			id, organizer_id, name, duration_minutes, max_bookings_per_slot, buffer_minutes,
			min_advance_booking_minutes, max_advance_booking_days, requires_payment,
			manual_confirmation, price, currency, questions, cancellation_policy_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14)
	`, uuid.New(), orgID,
		gofakeit.RandomString(services),
		gofakeit.RandomInt([]int{15, 30, 45, 60}),
		gofakeit.RandomInt([]int{1, 1, 1, 4, 10}),
		gofakeit.RandomInt([]int{0, 0, 5, 10}),
		gofakeit.RandomInt([]int{0, 60, 240}),
		gofakeit.RandomInt([]int{14, 30, 90}),
		requiresPayment,
		gofakeit.Number(0, 4) == 0,
		price,
		gofakeit.RandomString([]string{"USD", "EUR", "GBP"}),
		qs,
		policyID,
	)
	if err != nil {
		return fmt.Errorf("insert appointment type: %w", err)
	}
	return nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			if _, err := insertUser(ctx, tx, booking.RoleCustomer); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("customers seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}
