package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/lock"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const (
	slotLength = 30 * time.Minute
	dayStart   = 9 // first slot of a working day, UTC hour
	dayEnd     = 17
)

func main() {
	log, err := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	doctors := getInt("SEED_DOCTORS", 20)
	days := getInt("SEED_DAYS", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	// seeding is single-process, an in-process lock is enough
	svc := scheduling.NewService(scheduling.NewPgRepository(pool), lock.NewLocal(), log.Named("scheduling"))

	gofakeit.Seed(time.Now().UnixNano())

	created, err := seedSlots(context.Background(), svc, log, doctors, days)
	if err != nil {
		log.Fatal("seed slots", zap.Error(err), zap.Int("created", created))
	}

	log.Info("seed complete", zap.Int("doctors", doctors), zap.Int("slots", created))
}

func seedSlots(ctx context.Context, svc *scheduling.Service, log *zap.Logger, doctors, days int) (int, error) {
	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	created := 0

	for i := 0; i < doctors; i++ {
		doctor := identity.Actor{
			UID:          uuid.NewString(),
			Name:         "Dr. " + gofakeit.LastName(),
			Email:        gofakeit.Email(),
			Capabilities: []identity.Capability{identity.CapabilityDoctor},
		}

		count := 0
		for d := 0; d < days; d++ {
			day := tomorrow.Add(time.Duration(d) * 24 * time.Hour)
			for start := day.Add(dayStart * time.Hour); start.Before(day.Add(dayEnd * time.Hour)); start = start.Add(slotLength) {
				// leave gaps so schedules are not all identical
				if gofakeit.Number(0, 3) == 0 {
					continue
				}
				_, err := svc.CreateSlot(ctx, start, start.Add(slotLength), doctor)
				if errors.Is(err, scheduling.ErrSlotOverlap) {
					continue
				}
				if err != nil {
					return created, err
				}
				count++
			}
		}

		created += count
		log.Info("doctor seeded", zap.String("uid", doctor.UID), zap.String("name", doctor.Name), zap.Int("slots", count))
	}

	return created, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
