package domain

import "time"

// PrescriptionLine keeps the item name captured at issue time so the record
// stays readable after the inventory item is renamed or removed.
type PrescriptionLine struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Quantity int64  `json:"quantity"`
}

type Prescription struct {
	ID          string             `db:"id" json:"id"`
	PatientID   string             `db:"patient_id" json:"patient_id"`
	DoctorID    string             `db:"doctor_id" json:"doctor_id"`
	Notes       *string            `db:"notes" json:"notes"`
	CreatedBy   *string            `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	Lines       []PrescriptionLine `db:"-" json:"lines"`
	PatientName *string            `db:"-" json:"patient_name,omitempty"`
	DoctorName  *string            `db:"-" json:"doctor_name,omitempty"`
}
