package registry

import "lanfiasave/pkg/money"

// Beneficiary is a registered vulnerable person eligible to receive funds.
// The registry owns these records; the ledger holds read and
// increment-balance rights only.
type Beneficiary struct {
	ID             string
	Category       string
	Vulnerable     bool
	Validated      bool
	AmountReceived money.Amount
	// AccountID links the beneficiary to a platform account, when one exists.
	// Notifications are addressed to it; beneficiaries without an account are
	// credited silently, matching the intake flow.
	AccountID string
}

// Eligible reports whether the beneficiary can be resolved into a
// category-wide distribution: still vulnerable and validated by an admin.
func (b Beneficiary) Eligible() bool {
	return b.Vulnerable && b.Validated
}
