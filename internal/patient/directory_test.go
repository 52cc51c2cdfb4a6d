package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"patient001":   "PATIENT001",
		" patient-001": "PATIENT001",
		"PATIENT 002":  "PATIENT002",
		"":             "",
	}
	for in, want := range cases {
		if got := NormalizeID(in); got != want {
			t.Fatalf("NormalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadProfileAndOverview(t *testing.T) {
	d := MockDirectory()
	profile, overview, err := d.Load(context.Background(), "patient001")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if profile.PatientID != "PATIENT001" || profile.Name != "Avery Johnson" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.DateOfBirth != "1985-03-12" {
		t.Fatalf("DateOfBirth = %q, want 1985-03-12", profile.DateOfBirth)
	}
	if len(profile.RecentVisits) != 2 || profile.RecentVisits[0].DisplayDate != "October 02, 2025" {
		t.Fatalf("RecentVisits = %+v", profile.RecentVisits)
	}
	for _, want := range []string{
		"Patient Name: Avery Johnson",
		"Date of Birth: March 12, 1985",
		"- Metformin (500mg, Twice daily)",
		"- July 08, 2025: Medication review",
	} {
		if !strings.Contains(overview, want) {
			t.Fatalf("overview missing %q:\n%s", want, overview)
		}
	}
}

func TestLoadUnknownPatient(t *testing.T) {
	_, _, err := MockDirectory().Load(context.Background(), "PATIENT999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoadHonorsCancellation(t *testing.T) {
	d := MockDirectory().WithLatency(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := d.Load(ctx, "PATIENT001"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

func TestContactPhone(t *testing.T) {
	d := MockDirectory()
	if phone, ok := d.ContactPhone("PATIENT002"); !ok || phone != "555-987-6543" {
		t.Fatalf("ContactPhone() = (%q, %v)", phone, ok)
	}
	if _, ok := d.ContactPhone("nobody"); ok {
		t.Fatalf("ContactPhone(unknown) ok = true, want false")
	}
}
