package domain

import "time"

// DeltaReason explains why a balance changed. It is informational only.
type DeltaReason string

const (
	ReasonPurchase    DeltaReason = "purchase"
	ReasonBoost       DeltaReason = "boost"
	ReasonTipSent     DeltaReason = "tip-sent"
	ReasonTipReceived DeltaReason = "tip-received"
)

// Wallet is the session user's coin balance.
type Wallet struct {
	// Balance is the last authoritative absolute balance.
	Balance int64
	Reason  DeltaReason

	UpdatedAt time.Time

	// PendingDelta accumulates optimistic local changes until the next
	// authoritative balance arrives.
	PendingDelta int64
}

// Display returns the balance to show, including optimistic changes.
func (w *Wallet) Display() int64 {
	if w == nil {
		return 0
	}
	return w.Balance + w.PendingDelta
}

// WalletUpdate is an authoritative absolute balance.
type WalletUpdate struct {
	Balance int64
	Reason  DeltaReason
	At      time.Time
}
