package domain

// Profile denormalized user info delivered alongside the token at login.
type Profile struct {
	ID       ID      `json:"id,omitempty"`
	Username string  `json:"username,omitempty"`
	FullName string  `json:"fullName"`
	Phone    string  `json:"phone,omitempty"`
	Address  string  `json:"address,omitempty"`
	Job      string  `json:"job,omitempty"`
	Region   *Region `json:"regionAssociation,omitempty"`
	Policy   *Policy `json:"policyAssociation,omitempty"`
}
