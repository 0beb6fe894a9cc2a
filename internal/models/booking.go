// internal/models/booking.go
package models

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Occupies reports whether a booking in this status holds its court slot.
func (s BookingStatus) Occupies() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Booking struct {
	ID                 string
	UserID             string
	CourtID            string
	FacilityID         string
	StartTime          time.Time
	EndTime            time.Time
	Status             BookingStatus
	PaymentStatus      PaymentStatus
	AppliedPromotionID *string
	BasePriceCents     int64
	DiscountCents      int64
	PriceCents         int64
	Notes              string
	IdempotencyKey     *string
	ClientIP           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SlotBlock is an administrative block-out. It occupies its court like a booking.
type SlotBlock struct {
	ID        string
	CourtID   string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	CreatedBy string
	CreatedAt time.Time
}
