package cache

import "github.com/blackmichael/forum-sync/internal/domain"

// SetWallet replaces the balance with an authoritative absolute value and
// clears any optimistic delta.
func SetWallet(w *domain.Wallet, u domain.WalletUpdate) *domain.Wallet {
	if w != nil && w.Balance == u.Balance && w.PendingDelta == 0 && w.Reason == u.Reason {
		return w
	}
	return &domain.Wallet{
		Balance:   u.Balance,
		Reason:    u.Reason,
		UpdatedAt: u.At,
	}
}

// ApplyWalletDelta records an optimistic local change to the balance. It is
// only displayed until the next authoritative balance arrives.
func ApplyWalletDelta(w *domain.Wallet, delta int64) *domain.Wallet {
	if delta == 0 {
		return w
	}
	next := domain.Wallet{}
	if w != nil {
		next = *w
	}
	next.PendingDelta += delta
	return &next
}
