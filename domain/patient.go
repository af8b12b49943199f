package domain

type Patient struct {
	ID       string  `db:"id" json:"id"`
	FullName *string `db:"full_name" json:"full_name"`
	MRN      *string `db:"mrn" json:"mrn,omitempty"`
}
