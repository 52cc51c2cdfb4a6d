package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ent0n29/voicerelay/internal/patient"
)

var (
	specialists = []string{
		"Dr. Kiera Morrison (Cardiology)",
		"Dr. Mateo Alvarez (Endocrinology)",
		"Dr. Yara Chen (Pulmonology)",
		"Dr. Samuel Blake (Dermatology)",
	}
	appointmentWindows = []string{"8:30 AM", "10:00 AM", "1:15 PM", "3:45 PM"}
)

// Telehealth serves the patient-facing tools from a patient directory.
type Telehealth struct {
	Directory *patient.Directory
	Now       func() time.Time
	// Pick returns a value in [0, n); defaults to math/rand.
	Pick func(n int) int
}

type ScheduleAppointmentArgs struct {
	PatientID       string `json:"patient_id" jsonschema:"description=Unique patient identifier"`
	AppointmentType string `json:"appointment_type" jsonschema:"description=Reason for visit or appointment type"`
	PreferredDate   string `json:"preferred_date" jsonschema:"description=Preferred appointment date (YYYY-MM-DD)"`
}

type PatientHistoryArgs struct {
	PatientID string `json:"patient_id" jsonschema:"description=Unique patient identifier"`
}

type PrescriptionRefillArgs struct {
	PatientID      string `json:"patient_id" jsonschema:"description=Unique patient identifier"`
	MedicationName string `json:"medication_name" jsonschema:"description=Name of the medication to refill"`
}

// RegisterTelehealthTools adds the scheduling, history and refill tools to r.
func RegisterTelehealthTools(r *Registry, th *Telehealth) error {
	if th.Now == nil {
		th.Now = time.Now
	}
	if th.Pick == nil {
		th.Pick = rand.IntN
	}
	if err := Register(r, "schedule_appointment", "Schedule a clinic or tele-health appointment for the patient", th.scheduleAppointment); err != nil {
		return err
	}
	if err := Register(r, "get_patient_history", "Retrieve a quick summary of the patient's recent health history", th.patientHistory); err != nil {
		return err
	}
	return Register(r, "request_prescription_refill", "Submit a refill request for an active prescription", th.prescriptionRefill)
}

func (th *Telehealth) patientName(id string) string {
	if rec, ok := th.Directory.Get(id); ok {
		return rec.Name
	}
	return id
}

func (th *Telehealth) scheduleAppointment(_ context.Context, args ScheduleAppointmentArgs) (any, error) {
	confirmation := fmt.Sprintf("APT-%06d", 100000+th.Pick(900000))
	slot := appointmentWindows[th.Pick(len(appointmentWindows))]
	specialist := specialists[th.Pick(len(specialists))]

	return fmt.Sprintf("I scheduled a %s appointment for %s on %s at %s. The visit will be with %s. Confirmation number %s.",
		strings.ToLower(args.AppointmentType), th.patientName(args.PatientID), args.PreferredDate, slot, specialist, confirmation), nil
}

func (th *Telehealth) patientHistory(_ context.Context, args PatientHistoryArgs) (any, error) {
	rec, ok := th.Directory.Get(args.PatientID)
	if !ok {
		return "I could not find a health history for that patient ID.", nil
	}

	conditions := strings.Join(rec.Conditions, ", ")
	if conditions == "" {
		conditions = "no chronic conditions"
	}
	visit := "There are no recent visits on file"
	if len(rec.RecentVisits) > 0 {
		v := rec.RecentVisits[0]
		visit = fmt.Sprintf("Their most recent visit was on %s for %s", patient.FormatDate(v.Date), v.Purpose)
	}
	return fmt.Sprintf("%s is managed by %s. They are currently being treated for %s. %s.",
		rec.Name, rec.PrimaryPhysician, conditions, visit), nil
}

func (th *Telehealth) prescriptionRefill(_ context.Context, args PrescriptionRefillArgs) (any, error) {
	ready := th.Now().UTC().AddDate(0, 0, 1).Format("January 02 at 03:04 PM")
	return fmt.Sprintf("I submitted a refill request for %s on behalf of %s. The prescription will be ready for pickup or delivery by %s.",
		args.MedicationName, th.patientName(args.PatientID), ready), nil
}
