// Package money provides the fixed-point amount type used throughout the
// ledger. All amounts are integral counts of the smallest currency unit; no
// floating point is involved anywhere in allocation arithmetic.
package money

import "strconv"

// Amount is a quantity of the platform's single abstract currency unit.
type Amount int64

// Zero is the additive identity, exported for readability at call sites.
const Zero Amount = 0

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Split divides the amount into n nominal shares using truncating division.
// The remainder is whatever truncation left over; callers assign it to a
// designated share so the parts always sum back to the whole. n must be > 0.
func (a Amount) Split(n int) (share, remainder Amount) {
	share = a / Amount(n)
	remainder = a - share*Amount(n)
	return share, remainder
}

func (a Amount) String() string {
	return strconv.FormatInt(int64(a), 10)
}
