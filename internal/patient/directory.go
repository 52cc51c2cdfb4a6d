package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var ErrNotFound = errors.New("patient not found")

const displayDateLayout = "January 02, 2006"

type Medication struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Schedule string `json:"schedule"`
}

type Visit struct {
	Date    time.Time
	Purpose string
}

// Record is the directory's internal view of one patient.
type Record struct {
	ID               string
	Name             string
	DateOfBirth      time.Time
	PrimaryPhysician string
	ContactPhone     string
	Conditions       []string
	Medications      []Medication
	RecentVisits     []Visit
}

// Profile is the structured patient document injected as background context.
type Profile struct {
	PatientID        string         `json:"patientId"`
	Name             string         `json:"name"`
	DateOfBirth      string         `json:"dateOfBirth"`
	PrimaryPhysician string         `json:"primaryPhysician"`
	ContactPhone     string         `json:"contactPhone,omitempty"`
	Conditions       []string       `json:"conditions"`
	Medications      []Medication   `json:"medications"`
	RecentVisits     []VisitSummary `json:"recentVisits"`
}

type VisitSummary struct {
	Date        string `json:"date"`
	DisplayDate string `json:"displayDate"`
	Purpose     string `json:"purpose"`
}

// Directory is a read-only patient lookup.
type Directory struct {
	records map[string]Record
	latency time.Duration
}

func NewDirectory(records ...Record) *Directory {
	d := &Directory{records: make(map[string]Record, len(records))}
	for _, r := range records {
		d.records[NormalizeID(r.ID)] = r
	}
	return d
}

// WithLatency simulates a remote profile API by delaying every load.
func (d *Directory) WithLatency(latency time.Duration) *Directory {
	d.latency = latency
	return d
}

// NormalizeID uppercases an identifier and strips everything that is not a
// letter or digit, so "patient-001" and "PATIENT001" resolve alike.
func NormalizeID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func (d *Directory) Get(id string) (Record, bool) {
	r, ok := d.records[NormalizeID(id)]
	return r, ok
}

func (d *Directory) ContactPhone(id string) (string, bool) {
	r, ok := d.Get(id)
	if !ok || r.ContactPhone == "" {
		return "", false
	}
	return r.ContactPhone, true
}

// Load fetches the profile and narrative overview for a patient. It honors
// ctx while waiting on the simulated remote call.
func (d *Directory) Load(ctx context.Context, id string) (Profile, string, error) {
	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Profile{}, "", ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Profile{}, "", err
	}

	r, ok := d.Get(id)
	if !ok {
		return Profile{}, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Profile(), r.Overview(), nil
}

func (r Record) Profile() Profile {
	p := Profile{
		PatientID:        r.ID,
		Name:             r.Name,
		DateOfBirth:      r.DateOfBirth.Format("2006-01-02"),
		PrimaryPhysician: r.PrimaryPhysician,
		ContactPhone:     r.ContactPhone,
		Conditions:       append([]string{}, r.Conditions...),
		Medications:      append([]Medication{}, r.Medications...),
		RecentVisits:     make([]VisitSummary, 0, len(r.RecentVisits)),
	}
	for _, v := range r.RecentVisits {
		p.RecentVisits = append(p.RecentVisits, VisitSummary{
			Date:        v.Date.Format("2006-01-02T15:04:05"),
			DisplayDate: FormatDate(v.Date),
			Purpose:     v.Purpose,
		})
	}
	return p
}

// Overview renders the record as the plain-text summary used in prompts.
func (r Record) Overview() string {
	phone := r.ContactPhone
	if phone == "" {
		phone = "Not on file"
	}
	lines := []string{
		"Patient Name: " + r.Name,
		"Date of Birth: " + FormatDate(r.DateOfBirth),
		"Primary Physician: " + r.PrimaryPhysician,
		"Preferred Contact Phone: " + phone,
		"Active Conditions:",
	}
	for _, c := range r.Conditions {
		lines = append(lines, "- "+c)
	}

	lines = append(lines, "", "Medication Plan:")
	if len(r.Medications) == 0 {
		lines = append(lines, "No active medications on file.")
	}
	for _, m := range r.Medications {
		lines = append(lines, fmt.Sprintf("- %s (%s, %s)", m.Name, m.Dosage, m.Schedule))
	}

	lines = append(lines, "", "Recent Visits:")
	if len(r.RecentVisits) == 0 {
		lines = append(lines, "No recent visits recorded.")
	}
	for _, v := range r.RecentVisits {
		lines = append(lines, fmt.Sprintf("- %s: %s", FormatDate(v.Date), v.Purpose))
	}
	return strings.Join(lines, "\n")
}

func FormatDate(t time.Time) string {
	return t.Format(displayDateLayout)
}
