package domain

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
	RoleBilling      = "billing"
)

var StaffRoles = []string{RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist, RoleBilling}

func IsStaffRole(role string) bool {
	for _, r := range StaffRoles {
		if r == role {
			return true
		}
	}
	return false
}

type Staff struct {
	ID       string  `db:"id" json:"id"`
	FullName *string `db:"full_name" json:"full_name"`
	Email    *string `db:"email" json:"email,omitempty"`
	Role     string  `db:"role" json:"role"`
}
