package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/roster"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	clinics := flag.Int("clinics", 3, "number of clinics")
	doctorsPerClinic := flag.Int("doctors", 20, "doctors per clinic")
	waiting := flag.Int("waitlist", 50, "waitlist entries per clinic")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Storage != config.StoragePostgres {
		log.Fatal("seed writes to postgres; set STORAGE=postgres")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, metrics.NewCollector(prometheus.NewRegistry()))
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())
	doctors := roster.NewPgRepository(a.PgPool)

	for c := 0; c < *clinics; c++ {
		clinicID := uuid.New()
		if err := seedDoctors(ctx, doctors, clinicID, *doctorsPerClinic); err != nil {
			logger.Fatal("seed doctors", zap.Error(err))
		}
		// waitlist specialties come from what the roster actually holds
		seeded, err := doctors.ListByClinic(ctx, clinicID)
		if err != nil {
			logger.Fatal("list doctors", zap.Error(err))
		}
		if len(seeded) == 0 {
			logger.Fatal("no doctors stored for clinic", zap.String("clinic_id", clinicID.String()))
		}
		if err := seedWaitlist(ctx, a.Queue, clinicID, seeded, *waiting, cfg.ClinicLocation); err != nil {
			logger.Fatal("seed waitlist", zap.Error(err))
		}
		logger.Info("clinic seeded",
			zap.String("clinic_id", clinicID.String()),
			zap.Int("doctors", len(seeded)),
			zap.Int("waitlist_entries", *waiting),
		)
	}

	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, repo *roster.PgRepository, clinicID uuid.UUID, count int) error {
	for i := 0; i < count; i++ {
		d := roster.Doctor{
			ID:       uuid.New(),
			ClinicID: clinicID,
			Name:     "Dr. " + gofakeit.Name(),
			Active:   true,
		}
		// most doctors practise one specialty, some two
		d.Specialties = append(d.Specialties, specialties[gofakeit.Number(0, len(specialties)-1)])
		if gofakeit.Number(0, 4) == 0 {
			extra := specialties[gofakeit.Number(0, len(specialties)-1)]
			if !d.HasSpecialty(extra) {
				d.Specialties = append(d.Specialties, extra)
			}
		}

		if err := repo.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func seedWaitlist(ctx context.Context, q *waitlist.Queue, clinicID uuid.UUID, doctors []roster.Doctor, count int, loc *time.Location) error {
	today := waitlist.CivilDate(time.Now(), loc)

	for i := 0; i < count; i++ {
		patientID := uuid.New()
		doc := doctors[gofakeit.Number(0, len(doctors)-1)]
		startOffset := gofakeit.Number(0, 7)

		in := waitlist.JoinInput{
			ClinicID:  clinicID,
			PatientID: patientID,
			Specialty: doc.Specialties[0],
			Range: waitlist.DateRange{
				Start: today.AddDate(0, 0, startOffset),
				End:   today.AddDate(0, 0, startOffset+gofakeit.Number(1, 21)),
			},
			Actor: appointment.Actor{ID: patientID, Class: appointment.ActorPatient},
		}
		if gofakeit.Bool() {
			in.PreferredDoctorID = &doc.ID
		}

		if _, err := q.Join(ctx, in); err != nil {
			return err
		}
	}
	return nil
}
