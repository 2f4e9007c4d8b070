package model

import "time"

// User holds a registered identity and its credential.
type User struct {
	ID           uint        `json:"id" gorm:"primaryKey"`
	Email        string      `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Username     string      `json:"username,omitempty" gorm:"size:100"`
	PasswordHash []byte      `json:"-" gorm:"size:64;not null"`
	Salt         []byte      `json:"-" gorm:"size:32;not null"`
	IsVerified   bool        `json:"is_verified" gorm:"not null;default:false"`
	Roles        []UserRole  `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Details      *UserDetail `json:"details,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RoleSet returns the roles assigned to the user.
func (u *User) RoleSet() []Role {
	roles := make([]Role, 0, len(u.Roles))
	for _, ur := range u.Roles {
		roles = append(roles, ur.RoleID)
	}
	return roles
}

// HasRole reports whether role is assigned to the user.
func (u *User) HasRole(role Role) bool {
	for _, ur := range u.Roles {
		if ur.RoleID == role {
			return true
		}
	}
	return false
}

// UserRole assigns one role to one user.
type UserRole struct {
	UserID uint `gorm:"primaryKey"`
	RoleID Role `gorm:"primaryKey;autoIncrement:false"`
}

// UserDetail carries the optional profile fields supplied at registration.
type UserDetail struct {
	ID            uint   `json:"-" gorm:"primaryKey"`
	UserID        uint   `json:"-" gorm:"uniqueIndex;not null"`
	FullName      string `json:"name" gorm:"size:255"`
	InstituteName string `json:"institute_name,omitempty" gorm:"size:255"`
	IDCardNumber  string `json:"id_card_number,omitempty" gorm:"size:100"`
}
