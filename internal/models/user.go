// internal/models/user.go
package models

import "time"

const (
	MinTrustLevel = 0
	MaxTrustLevel = 3
)

type User struct {
	ID                 string
	Name               string
	Email              string
	EmailVerified      bool
	TrustLevel         int
	WeeklyBookingLimit int
	SuccessfulBookings int
	ActiveStrikes      int
	BookingBanUntil    *time.Time
	LastStrikeAt       *time.Time
	CreatedAt          time.Time
}

type NoShowStatus string

const (
	NoShowStatusActive   NoShowStatus = "active"
	NoShowStatusRedeemed NoShowStatus = "redeemed"
	NoShowStatusExpired  NoShowStatus = "expired"
)

type NoShowReport struct {
	ID         string
	UserID     string
	ReporterID string
	BookingID  string
	Status     NoShowStatus
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
