package model

import "time"

// UserStatus defined the list of possible user statuses
type UserStatus string

const (
	// UserStatusPending when user is newly created and email address is not verified
	UserStatusPending UserStatus = "pending"
	// UserStatusActive when user is active in the system with email address confirmed
	UserStatusActive UserStatus = "active"
	// UserStatusBlocked when user is blocked by the admin
	UserStatusBlocked UserStatus = "blocked"
	// UserStatusDeleted when user is deleted by the admin
	UserStatusDeleted UserStatus = "deleted"
	// UserStatusRemoved when user is removed by the admin
	UserStatusRemoved UserStatus = "removed"
)

func (u UserStatus) String() string {
	return string(u)
}

// User is the part of the users table the referral tree reads.
// Accounts are owned by the user management module.
type User struct {
	ID        uint64     `sql:"type: bigint" gorm:"primary_key" json:"id"`
	Email     string     `gorm:"unique;" json:"email"`
	Status    UserStatus `sql:"not null;type:user_status_t" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName used by gorm
func (User) TableName() string {
	return "users"
}
