package domain

import "github.com/shopspring/decimal"

// Statistics server-computed dashboard projection over a user's claims.
// Treated as an opaque snapshot.
type Statistics struct {
	TotalClaims               int             `json:"totalClaims"`
	TotalClaimAmount          decimal.Decimal `json:"totalClaimAmount"`
	ValidatedReimbursement    decimal.Decimal `json:"totalValidatedReimbursement"`
	NonValidatedReimbursement decimal.Decimal `json:"totalNonValidatedReimbursement"`
	Counts                    StatusCounts    `json:"counts"`
}

// StatusCounts claims per status.
type StatusCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Paid     int `json:"paid"`
}

func (c StatusCounts) Of(s ClaimStatus) int {
	switch s {
	case StatusPending:
		return c.Pending
	case StatusApproved:
		return c.Approved
	case StatusRejected:
		return c.Rejected
	case StatusPaid:
		return c.Paid
	}
	return 0
}
