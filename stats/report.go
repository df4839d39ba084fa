package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dhcgn/apptrack/model"
)

// Report aggregates the record list for the stats command.
type Report struct {
	Total         int
	Responded     int
	WithDocuments int
	ByStatus      map[model.Status]int
	ByCompany     map[string]int
	ByMonth       map[string]int
}

// ResponseRate is the share of applications that got an answer, in percent.
func (r Report) ResponseRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Responded) * 100 / float64(r.Total)
}

// Months returns the months present in the report, oldest first.
func (r Report) Months() []string {
	months := make([]string, 0, len(r.ByMonth))
	for m := range r.ByMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// Build computes a Report. Months are keyed "YYYY-MM" from AppliedOn;
// entities without a date count under "unknown".
func Build(entities []model.Entity) Report {
	r := Report{
		ByStatus:  make(map[model.Status]int),
		ByCompany: make(map[string]int),
		ByMonth:   make(map[string]int),
	}
	for _, e := range entities {
		r.Total++
		r.ByStatus[e.Status]++
		if e.Status.Responded() {
			r.Responded++
		}
		if len(e.Documents) > 0 {
			r.WithDocuments++
		}
		if e.Company != "" {
			r.ByCompany[e.Company]++
		}
		month := "unknown"
		if !e.AppliedOn.IsZero() {
			month = e.AppliedOn.Format("2006-01")
		}
		r.ByMonth[month]++
	}
	return r
}

// WriteCSV exports one row per entity.
func WriteCSV(w io.Writer, entities []model.Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "company", "position", "applied_on", "status", "documents", "folder"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entities {
		applied := ""
		if !e.AppliedOn.IsZero() {
			applied = e.AppliedOn.Format(model.DateLayout)
		}
		row := []string{e.ID, e.Company, e.Position, applied, string(e.Status), strconv.Itoa(len(e.Documents)), e.Folder}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
