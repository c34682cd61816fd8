package domain

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var phoneRx = regexp.MustCompile(`^\+?[0-9 ]{6,20}$`)

// Registration body of POST /auth/client/register.
// Married is a boolean at the API boundary; ParseMarried normalizes user input.
type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`
	Region   ID     `json:"region"`
	Age      int    `json:"age"`
	Address  string `json:"address"`
	Job      string `json:"job"`
	Married  bool   `json:"married"`
	Policy   ID     `json:"policy"`
}

func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.Phone, validation.Required, validation.Match(phoneRx)),
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.Age, validation.Required, validation.Min(1), validation.Max(150)),
		validation.Field(&r.Policy, validation.Required),
	)
}

// ParseMarried accepts true/false, yes/no, 1/0 and married/single.
func ParseMarried(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "married":
		return true, nil
	case "false", "no", "n", "0", "single", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid marital status %q", s)
	}
}
