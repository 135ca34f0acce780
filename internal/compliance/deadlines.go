// Package compliance computes regulatory deadlines for a claim. All
// functions are pure calendar arithmetic; nothing here touches storage.
package compliance

import "time"

// Fixed regulatory offsets, in days.
const (
	AckDays             = 15
	AcceptDenyDays      = 21
	StatusUpdateDays    = 45
	FraudReportDays     = 60
	PaymentBusinessDays = 10
)

// AckDeadline is the acknowledgment deadline: creation + 15 calendar days.
func AckDeadline(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, AckDays)
}

// AcceptDenyDeadline is proof of loss + 21 calendar days.
func AcceptDenyDeadline(proofOfLoss time.Time) time.Time {
	return proofOfLoss.AddDate(0, 0, AcceptDenyDays)
}

// StatusUpdateDeadline is proof of loss + 45 calendar days.
func StatusUpdateDeadline(proofOfLoss time.Time) time.Time {
	return proofOfLoss.AddDate(0, 0, StatusUpdateDays)
}

// FraudReportDeadline is proof of loss + 60 calendar days.
func FraudReportDeadline(proofOfLoss time.Time) time.Time {
	return proofOfLoss.AddDate(0, 0, FraudReportDays)
}

// PaymentDeadline is acceptance + 10 business days, skipping Saturday and
// Sunday. The deadline itself never lands on a weekend.
func PaymentDeadline(acceptedAt time.Time) time.Time {
	return AddBusinessDays(acceptedAt, PaymentBusinessDays)
}

// AddBusinessDays advances t by n weekdays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		n--
	}
	return t
}

// DeadlineMet reports whether now is at or before the deadline.
func DeadlineMet(deadline, now time.Time) bool {
	return !now.After(deadline)
}
