package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MonthlyReport struct {
	ClinicID   uuid.UUID         `json:"clinic_id"`
	Year       int               `json:"year"`
	Month      time.Month        `json:"month"`
	Total      int               `json:"total"`
	ByStatus   map[Status]int    `json:"by_status"`
	ByKind     map[Kind]int      `json:"by_kind"`
	ByDoctor   map[uuid.UUID]int `json:"by_doctor"`
	ByInsurer  map[uuid.UUID]int `json:"by_insurer"`
	NoShowRate float64           `json:"no_show_rate"`
}

// MonthlyReport counts the clinic's appointments starting in the given
// calendar month of the store's location. NoShowRate is a percentage of the
// total.
func (s *Store) MonthlyReport(ctx context.Context, clinicID uuid.UUID, year int, month time.Month) (*MonthlyReport, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidFilter, month)
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 1, 0)

	appts, err := s.List(ctx, Filter{ClinicID: &clinicID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	r := &MonthlyReport{
		ClinicID:  clinicID,
		Year:      year,
		Month:     month,
		ByStatus:  make(map[Status]int),
		ByKind:    map[Kind]int{KindSelfPay: 0, KindInsurance: 0},
		ByDoctor:  make(map[uuid.UUID]int),
		ByInsurer: make(map[uuid.UUID]int),
	}

	noShows := 0
	for _, a := range appts {
		// overlap filter also returns appointments straddling the month start
		if a.Start.Before(from) {
			continue
		}
		r.Total++
		r.ByStatus[a.Status]++
		r.ByKind[a.Kind]++
		r.ByDoctor[a.DoctorID]++
		if a.Kind == KindInsurance && a.Insurance != nil {
			r.ByInsurer[a.Insurance.PlanID]++
		}
		if a.Status == StatusNoShow {
			noShows++
		}
	}

	if r.Total > 0 {
		r.NoShowRate = float64(noShows) / float64(r.Total) * 100
	}
	return r, nil
}
