package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Doctors     int
	Patients    int
	SlotRatio   float64
	BookRatio   float64
	CancelRatio float64
	ReadRatio   float64
	JWTSecret   string
	JWTIssuer   string
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	CreateSlot       OperationMetrics
	ListSlots        OperationMetrics
	Request          OperationMetrics
	Cancel           OperationMetrics
	ListAppointments OperationMetrics
}

// simUser is a fake doctor or patient with a ready bearer token.
type simUser struct {
	actor identity.Actor
	token string
}

type Simulator struct {
	config   SimConfig
	log      *zap.Logger
	client   *http.Client
	doctors  []simUser
	patients []simUser
	metrics  Metrics

	// slots handed out to doctors, so generated intervals rarely overlap
	nextOffset atomic.Int64

	mu     sync.RWMutex
	booked []bookedSlot
}

type bookedSlot struct {
	id      string
	patient simUser
}

func main() {
	log, err := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("slot_ratio", cfg.SlotRatio),
		zap.Float64("book_ratio", cfg.BookRatio),
		zap.Float64("cancel_ratio", cfg.CancelRatio),
		zap.Float64("read_ratio", cfg.ReadRatio),
	)

	sim, err := newSimulator(cfg, log)
	if err != nil {
		log.Fatal("build simulator", zap.Error(err))
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		Doctors:     getInt("SIM_DOCTORS", 10),
		Patients:    getInt("SIM_PATIENTS", 200),
		SlotRatio:   getFloat("SIM_SLOT_RATIO", 0.2),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.4),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.3),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "clinic-slot-scheduling"),
	}

	// Normalize ratios
	total := cfg.SlotRatio + cfg.BookRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.SlotRatio /= total
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to mint simulator tokens")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 || cfg.Patients <= 0 {
		return errors.New("SIM_DOCTORS and SIM_PATIENTS must be > 0")
	}
	return nil
}

func newSimulator(cfg SimConfig, log *zap.Logger) (*Simulator, error) {
	issuer := identity.NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer)
	ttl := cfg.Duration + time.Hour

	mint := func(n int, capability identity.Capability, prefix string) ([]simUser, error) {
		users := make([]simUser, 0, n)
		for i := 0; i < n; i++ {
			actor := identity.Actor{
				UID:          uuid.NewString(),
				Name:         prefix + gofakeit.Name(),
				Email:        gofakeit.Email(),
				Capabilities: []identity.Capability{capability},
			}
			token, err := issuer.Issue(actor, ttl)
			if err != nil {
				return nil, err
			}
			users = append(users, simUser{actor: actor, token: token})
		}
		return users, nil
	}

	doctors, err := mint(cfg.Doctors, identity.CapabilityDoctor, "Dr. ")
	if err != nil {
		return nil, fmt.Errorf("mint doctor tokens: %w", err)
	}
	patients, err := mint(cfg.Patients, identity.CapabilityPatient, "")
	if err != nil {
		return nil, fmt.Errorf("mint patient tokens: %w", err)
	}

	return &Simulator{
		config:   cfg,
		log:      log,
		client:   &http.Client{Timeout: 10 * time.Second},
		doctors:  doctors,
		patients: patients,
	}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Int("doctors", len(s.doctors)), zap.Int("patients", len(s.patients)))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
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
			case r < s.config.SlotRatio:
				s.doCreateSlot(ctx, rng)
			case r < s.config.SlotRatio+s.config.BookRatio:
				s.doRequest(ctx, rng)
			case r < s.config.SlotRatio+s.config.BookRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListSlots(ctx, rng)
				} else {
					s.doListAppointments(ctx, rng)
				}
			}
		}
	}
}

// call sends one request and returns the status code, or 0 on transport error.
func (s *Simulator) call(ctx context.Context, method, path string, as simUser, body, out any) (int, time.Duration) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Authorization", "Bearer "+as.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		}
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency
}

// cancelled requests at the deadline are not worth counting
func (s *Simulator) record(ctx context.Context, om *OperationMetrics, latency time.Duration, status int, ok ...int) {
	if ctx.Err() != nil {
		return
	}
	for _, code := range ok {
		if status == code {
			om.Record(latency, true, false)
			return
		}
	}
	om.Record(latency, false, status == http.StatusConflict)
}

func (s *Simulator) doCreateSlot(ctx context.Context, rng *rand.Rand) {
	doctor := s.doctors[rng.Intn(len(s.doctors))]

	offset := s.nextOffset.Add(1)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute).Add(time.Duration(offset) * 15 * time.Minute)
	body := map[string]time.Time{"start": start, "end": start.Add(time.Duration(10+rng.Intn(3)*10) * time.Minute)}

	status, latency := s.call(ctx, http.MethodPost, "/v1/slots", doctor, body, nil)
	s.record(ctx, &s.metrics.CreateSlot, latency, status, http.StatusCreated)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	patient := s.patients[rng.Intn(len(s.patients))]
	status, latency := s.call(ctx, http.MethodGet, "/v1/slots?take=20", patient, nil, nil)
	s.record(ctx, &s.metrics.ListSlots, latency, status, http.StatusOK)
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) {
	patient := s.patients[rng.Intn(len(s.patients))]

	var free []struct {
		ID string `json:"id"`
	}
	if status, _ := s.call(ctx, http.MethodGet, "/v1/slots?fields=id&take=20&skip="+strconv.Itoa(rng.Intn(5)*20), patient, nil, &free); status != http.StatusOK || len(free) == 0 {
		return
	}
	slotID := free[rng.Intn(len(free))].ID

	status, latency := s.call(ctx, http.MethodPost, "/v1/appointments", patient, map[string]string{"slot_id": slotID}, nil)
	s.record(ctx, &s.metrics.Request, latency, status, http.StatusAccepted)

	if status == http.StatusAccepted {
		s.mu.Lock()
		s.booked = append(s.booked, bookedSlot{id: slotID, patient: patient})
		s.mu.Unlock()
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.booked) == 0 {
		s.mu.Unlock()
		return
	}
	idx := rng.Intn(len(s.booked))
	b := s.booked[idx]
	s.booked[idx] = s.booked[len(s.booked)-1]
	s.booked = s.booked[:len(s.booked)-1]
	s.mu.Unlock()

	// a request that lost the race has no appointment, 404 is expected then
	status, latency := s.call(ctx, http.MethodDelete, "/v1/appointments/"+b.id, b.patient, nil, nil)
	s.record(ctx, &s.metrics.Cancel, latency, status, http.StatusNoContent, http.StatusNotFound)
}

func (s *Simulator) doListAppointments(ctx context.Context, rng *rand.Rand) {
	as := s.patients[rng.Intn(len(s.patients))]
	if rng.Intn(2) == 0 {
		as = s.doctors[rng.Intn(len(s.doctors))]
	}
	status, latency := s.call(ctx, http.MethodGet, "/v1/appointments?take=20", as, nil, nil)
	s.record(ctx, &s.metrics.ListAppointments, latency, status, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create slot", &s.metrics.CreateSlot)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("Request appointment", &s.metrics.Request)
	printOperationReport("Cancel appointment", &s.metrics.Cancel)
	printOperationReport("List appointments", &s.metrics.ListAppointments)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
