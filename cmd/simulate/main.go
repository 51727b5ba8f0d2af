package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	WaitRatio    float64
	ReadRatio    float64
	PatientCount int
	DoctorLimit  int
	HorizonDays  int
	PostgresDSN  string
}

type doctor struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	Specialties []string
}

type DataPool struct {
	Doctors  []doctor
	Patients []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
	entries      []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) AddEntry(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.entries = append(dp.entries, id)
}

func (dp *DataPool) randomID(rng *rand.Rand, ids []uuid.UUID) (uuid.UUID, bool) {
	if len(ids) == 0 {
		return uuid.Nil, false
	}
	return ids[rng.Intn(len(ids))], true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.randomID(rng, dp.appointments)
}

func (dp *DataPool) RandomEntry(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.randomID(rng, dp.entries)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min95(len(latencies))]
	return avg, min, max, p50, p95
}

func min95(n int) int {
	idx := n * 95 / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking  OperationMetrics
	Cancel   OperationMetrics
	Join     OperationMetrics
	Respond  OperationMetrics
	ReadByID OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f cancel=%.2f waitlist=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.WaitRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, int32(cfg.Workers)+2)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d doctors, %d synthetic patients", len(dataPool.Doctors), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.15),
		WaitRatio:    getFloat("SIM_WAITLIST_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientCount: getInt("SIM_PATIENTS", 2000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 100),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 14),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.WaitRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.WaitRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, clinic_id, specialties FROM doctors WHERE active LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d doctor
		if err := rows.Scan(&d.ID, &d.ClinicID, &d.Specialties); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}

	dataPool.Patients = newPatients(cfg.PatientCount)

	return dataPool, nil
}

// Patients live in the external registry; any UUID will do here.
func newPatients(n int) []uuid.UUID {
	out := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uuid.New())
	}
	return out
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.WaitRatio:
			if rng.Intn(2) == 0 {
				s.doJoin(ctx, rng)
			} else {
				s.doRespond(ctx, rng)
			}
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByDoctor(ctx, rng)
			}
		}
	}
}

// randomSlot picks a half-hour slot in clinic hours within the horizon.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays))
	return day.Add(8*time.Hour + time.Duration(rng.Intn(20))*30*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body := map[string]any{
		"clinic_id":        doc.ClinicID,
		"doctor_id":        doc.ID,
		"patient_id":       patientID,
		"start":            s.randomSlot(rng),
		"duration_minutes": 30,
		"kind":             "self-pay",
		"notes":            "booked for " + gofakeit.Name(),
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", body, patientID, &created)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	body := map[string]any{"status": "cancelled", "reason": "simulated cancellation"}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+apptID.String()+"/status", body, uuid.New(), nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doJoin(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	if len(doc.Specialties) == 0 {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	today := time.Now().UTC()

	body := map[string]any{
		"clinic_id":  doc.ClinicID,
		"patient_id": patientID,
		"specialty":  doc.Specialties[rng.Intn(len(doc.Specialties))],
		"start_date": today.Format(time.DateOnly),
		"end_date":   today.AddDate(0, 0, s.config.HorizonDays).Format(time.DateOnly),
	}
	if rng.Intn(3) == 0 {
		body["preferred_doctor_id"] = doc.ID
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/waitlist", body, patientID, &created)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddEntry(created.ID)
	}
	s.metrics.Join.Record(latency, status, err)
}

func (s *Simulator) doRespond(ctx context.Context, rng *rand.Rand) {
	entryID, ok := s.pool.RandomEntry(rng)
	if !ok {
		return
	}

	var entry struct {
		Status    string    `json:"status"`
		PatientID uuid.UUID `json:"patient_id"`
	}
	status, _, err := s.call(ctx, http.MethodGet, "/waitlist/"+entryID.String(), nil, uuid.Nil, &entry)
	if err != nil || status != http.StatusOK || entry.Status != "offered" {
		return
	}

	resp := "accept"
	if rng.Intn(4) == 0 {
		resp = "decline"
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/waitlist/"+entryID.String()+"/response",
		map[string]any{"response": resp}, entry.PatientID, nil)
	s.metrics.Respond.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil, uuid.Nil, nil)
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	status, latency, err := s.call(ctx, http.MethodGet, "/appointments?doctor_id="+doc.ID.String(), nil, uuid.Nil, nil)
	s.metrics.List.Record(latency, status, err)
}

// call sends one request and decodes a successful body into out.
func (s *Simulator) call(ctx context.Context, method, path string, body any, actorID uuid.UUID, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if actorID != uuid.Nil {
		req.Header.Set("X-Actor-ID", actorID.String())
		req.Header.Set("X-Actor-Role", "patient")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency, nil
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
	printOperationReport("Join waitlist", &s.metrics.Join)
	printOperationReport("Respond to offer", &s.metrics.Respond)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by doctor", &s.metrics.List)
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
