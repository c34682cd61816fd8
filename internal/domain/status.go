package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus a status string outside the closed set below.
var ErrUnknownStatus = errors.New("unknown claim status")

// ClaimStatus server-controlled lifecycle state. The client never writes it.
type ClaimStatus string

const (
	StatusPending  ClaimStatus = "pending"
	StatusApproved ClaimStatus = "approved"
	StatusRejected ClaimStatus = "rejected"
	StatusPaid     ClaimStatus = "paid"
)

// AllStatuses in display order.
var AllStatuses = []ClaimStatus{StatusPending, StatusApproved, StatusRejected, StatusPaid}

// ParseClaimStatus is case-insensitive ("Approved" and "approved" are the same state).
func ParseClaimStatus(s string) (ClaimStatus, error) {
	switch st := ClaimStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

func (s ClaimStatus) String() string { return string(s) }

// Terminal paid is final; rejected is final unless disputed.
func (s ClaimStatus) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

func (s *ClaimStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	parsed, err := ParseClaimStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
