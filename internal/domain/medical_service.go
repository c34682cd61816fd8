package domain

// MedicalService service-type entity a claim refers to.
type MedicalService struct {
	ID        ID         `json:"id"`
	Name      string     `json:"name,omitempty"`
	Clinician *Clinician `json:"userAssociation,omitempty"`
}

// Clinician owner of a medical service.
type Clinician struct {
	ID       ID     `json:"id,omitempty"`
	FullName string `json:"fullname"`
}

func (m MedicalService) Label() string {
	switch {
	case m.Name != "" && m.Clinician != nil && m.Clinician.FullName != "":
		return m.Name + " (" + m.Clinician.FullName + ")"
	case m.Name != "":
		return m.Name
	case m.Clinician != nil:
		return m.Clinician.FullName
	default:
		return string(m.ID)
	}
}
