package domain

import "time"

// StaffMember is a directory entry for a known actor.
type StaffMember struct {
	ID        string
	Name      string
	Role      Role
	Unit      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
