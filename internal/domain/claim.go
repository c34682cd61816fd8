package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Claim a reimbursement request as returned by the claim list endpoints.
// Immutable on the client except for the one-time accusation.
type Claim struct {
	ID             ID                  `json:"id"`
	MedicalService *MedicalService     `json:"medicalServiceAssociation,omitempty"`
	ClaimAmount    decimal.Decimal     `json:"claim_amount"`
	Status         ClaimStatus         `json:"status"`
	Date           Timestamp           `json:"date"`
	Reimbursement  decimal.NullDecimal `json:"reimbursement"` // set once paid
	Attachments    []StoredFile        `json:"files,omitempty"`
	Payments       []Payment           `json:"payments,omitempty"`
	Justification  *Justification      `json:"justification,omitempty"` // rejected only
	Accusation     *Accusation         `json:"accusation,omitempty"`
	Client         *ClientAssociation  `json:"clientAssociation,omitempty"`
}

// UnmarshalJSON rejects a claim without a status with ErrUnknownStatus.
func (c *Claim) UnmarshalJSON(b []byte) error {
	type plain Claim
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Status == "" {
		return fmt.Errorf("%w: status missing", ErrUnknownStatus)
	}
	*c = Claim(p)
	return nil
}

// Payment one partial payment of a paid claim.
type Payment struct {
	ID     ID              `json:"id,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Date   Timestamp       `json:"date,omitempty"`
}

// Justification server-authored rejection reason.
type Justification struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`
}

// Accusation user-authored dispute of a rejection.
type Accusation struct {
	ID          ID     `json:"id,omitempty"`
	Description string `json:"description"`
}

// ClientAssociation the claimant as embedded in a claim, only the policy is used.
type ClientAssociation struct {
	ID     ID      `json:"id,omitempty"`
	Policy *Policy `json:"policyAssociation,omitempty"`
}

// StoredFile an attachment already uploaded with a claim.
type StoredFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimetype,omitempty"`
	URL      string `json:"url,omitempty"`
}

// CanDispute rejected and not yet disputed.
func (c Claim) CanDispute() bool {
	return c.Status == StatusRejected && c.Accusation == nil
}

// IsArchivable paid, or rejected with an accusation on file.
func (c Claim) IsArchivable() bool {
	return c.Status == StatusPaid || (c.Status == StatusRejected && c.Accusation != nil)
}

// CoPay percentage of the claimant's policy, zero when unknown.
func (c Claim) CoPay() decimal.Decimal {
	if c.Client == nil || c.Client.Policy == nil {
		return decimal.Zero
	}
	return c.Client.Policy.CoPay
}

// EstimatedReimbursement claimAmount * co_pay / 100.
func (c Claim) EstimatedReimbursement() decimal.Decimal {
	return c.ClaimAmount.Mul(c.CoPay()).Div(hundred).Round(2)
}

// ReimbursementDisplay the finalized amount once paid, otherwise the estimate.
func (c Claim) ReimbursementDisplay() decimal.Decimal {
	if c.Status == StatusPaid && c.Reimbursement.Valid {
		return c.Reimbursement.Decimal
	}
	return c.EstimatedReimbursement()
}

// TotalPaid sum of recorded payments. Only meaningful for paid claims.
func (c Claim) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// ServiceLabel human readable service type.
func (c Claim) ServiceLabel() string {
	if c.MedicalService == nil {
		return ""
	}
	return c.MedicalService.Label()
}
