package model

import "time"

// OtpRecord is the active one-time passcode for an email address.
type OtpRecord struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the record is no longer valid at now.
func (r *OtpRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
