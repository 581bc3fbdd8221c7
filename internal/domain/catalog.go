package domain

import "time"

// BoostInfo describes the session user's daily boost allowance.
type BoostInfo struct {
	Used     int
	Limit    int
	ResetsAt time.Time
}

// Remaining returns how many boosts are left today.
func (b BoostInfo) Remaining() int {
	if b.Used >= b.Limit {
		return 0
	}
	return b.Limit - b.Used
}

// Package is a purchasable bundle of coins.
type Package struct {
	ID    string
	Name  string
	Coins int64
	Price string
}

// Item is something that can be bought with coins.
type Item struct {
	ID   string
	Name string
	Kind string
	Cost int64
}
