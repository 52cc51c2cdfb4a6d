package patient

import "time"

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MockDirectory returns the demo patient roster.
func MockDirectory() *Directory {
	return NewDirectory(
		Record{
			ID:               "PATIENT001",
			Name:             "Avery Johnson",
			DateOfBirth:      date(1985, time.March, 12),
			PrimaryPhysician: "Dr. Elena Ramirez",
			ContactPhone:     "123-123-1234",
			Conditions:       []string{"Type 2 Diabetes", "Hypertension"},
			Medications: []Medication{
				{Name: "Metformin", Dosage: "500mg", Schedule: "Twice daily"},
				{Name: "Lisinopril", Dosage: "10mg", Schedule: "Once daily"},
			},
			RecentVisits: []Visit{
				{Date: date(2025, time.October, 2), Purpose: "Quarterly check-in"},
				{Date: date(2025, time.July, 8), Purpose: "Medication review"},
			},
		},
		Record{
			ID:               "PATIENT002",
			Name:             "Jordan Lee",
			DateOfBirth:      date(1992, time.November, 4),
			PrimaryPhysician: "Dr. Priya Sethi",
			ContactPhone:     "555-987-6543",
			Conditions:       []string{"Asthma"},
			Medications: []Medication{
				{Name: "Albuterol Inhaler", Dosage: "90 mcg", Schedule: "As needed"},
			},
			RecentVisits: []Visit{
				{Date: date(2025, time.September, 17), Purpose: "Pulmonary function test"},
				{Date: date(2025, time.May, 29), Purpose: "Allergy evaluation"},
			},
		},
	)
}
