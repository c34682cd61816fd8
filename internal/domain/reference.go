package domain

import "github.com/shopspring/decimal"

// Region reference data for registration.
type Region struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Policy insurance policy; CoPay is the reimbursed percentage.
type Policy struct {
	ID    ID              `json:"id"`
	Name  string          `json:"name,omitempty"`
	CoPay decimal.Decimal `json:"co_pay"`
}
