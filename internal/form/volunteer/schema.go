// Package volunteer defines the volunteer recruitment form.
package volunteer

import (
	"github.com/jwalitptl/canopy-portal/internal/form"
	"github.com/jwalitptl/canopy-portal/internal/repository"
)

const Name = "volunteer"

func Schema() *form.Schema {
	return &form.Schema{
		Name:         Name,
		Title:        "Volunteer Registration",
		Table:        repository.TableVolunteers,
		Static:       map[string]interface{}{"status": "new"},
		ContactField: "email",
		NameField:    "full_name",
		Steps: []form.Step{
			{
				Number: 1,
				Title:  "About you",
				Fields: []form.Field{
					{Name: "full_name", Label: "Full name", Kind: form.KindText, Required: true},
					{Name: "email", Label: "Email", Kind: form.KindText, Required: true},
					{Name: "phone", Label: "Phone", Kind: form.KindText, Required: true},
					{Name: "date_of_birth", Label: "Date of birth", Kind: form.KindDate, Required: true},
					{Name: "district", Label: "District", Kind: form.KindText, Required: true},
				},
			},
			{
				Number: 2,
				Title:  "Availability",
				Fields: []form.Field{
					{Name: "availability", Label: "When can you help?", Kind: form.KindText, Required: true},
					{Name: "hours_per_month", Label: "Hours per month", Kind: form.KindNumber, Required: true},
					{Name: "skills", Label: "Skills", Kind: form.KindText},
					{Name: "has_transport", Label: "I have my own transport", Kind: form.KindBool},
				},
			},
			{
				Number: 3,
				Title:  "Consent",
				Fields: []form.Field{
					{Name: "consent_contact", Label: "You may contact me about volunteering events", Kind: form.KindBool, Commitment: true},
					{Name: "consent_safety", Label: "I will follow the site safety guidance", Kind: form.KindBool, Commitment: true},
				},
			},
		},
	}
}
