// Package treecampaign defines the six-step tree planting programme application.
package treecampaign

import (
	"github.com/jwalitptl/canopy-portal/internal/form"
	"github.com/jwalitptl/canopy-portal/internal/repository"
)

const Name = "tree-campaign"

// CommitmentsStep gates submission on the applicant's three commitments.
const CommitmentsStep = 5

func Schema() *form.Schema {
	return &form.Schema{
		Name:         Name,
		Title:        "Tree Planting Campaign Application",
		Table:        repository.TableTreeApplications,
		Static:       map[string]interface{}{"status": "pending"},
		ContactField: "contact_email",
		NameField:    "contact_person",
		Steps: []form.Step{
			{
				Number: 1,
				Title:  "Organization",
				Fields: []form.Field{
					{Name: "organization_name", Label: "Organization name", Kind: form.KindText, Required: true},
					{Name: "organization_type", Label: "Organization type", Kind: form.KindText, Required: true},
					{Name: "application_date", Label: "Application date", Kind: form.KindDate, Required: true},
					{Name: "registration_number", Label: "Registration number", Kind: form.KindText},
				},
			},
			{
				Number: 2,
				Title:  "Contact details",
				Fields: []form.Field{
					{Name: "contact_person", Label: "Contact person", Kind: form.KindText, Required: true},
					{Name: "contact_email", Label: "Email", Kind: form.KindText, Required: true},
					{Name: "contact_phone", Label: "Phone", Kind: form.KindText, Required: true},
					{Name: "address", Label: "Address", Kind: form.KindText, Required: true},
				},
			},
			{
				Number: 3,
				Title:  "Planting site",
				Fields: []form.Field{
					{Name: "site_location", Label: "Site location", Kind: form.KindText, Required: true},
					{Name: "district", Label: "District", Kind: form.KindText, Required: true},
					{Name: "site_area_hectares", Label: "Site area (hectares)", Kind: form.KindDecimal, Required: true, Column: "site_area"},
					{Name: "land_ownership", Label: "Land ownership", Kind: form.KindText, Required: true},
				},
			},
			{
				Number: 4,
				Title:  "Planting plan",
				Fields: []form.Field{
					{Name: "tree_count", Label: "Number of trees", Kind: form.KindNumber, Required: true, Column: "number_of_trees"},
					{Name: "tree_species", Label: "Species", Kind: form.KindText, Required: true},
					{Name: "planting_date", Label: "Planned planting date", Kind: form.KindDate, Required: true},
					{Name: "volunteer_count", Label: "Expected volunteers", Kind: form.KindNumber},
				},
			},
			{
				Number: CommitmentsStep,
				Title:  "Commitments",
				Fields: []form.Field{
					{Name: "commit_maintenance", Label: "We will maintain the trees for three years", Kind: form.KindBool, Commitment: true},
					{Name: "commit_reporting", Label: "We will report survival rates every six months", Kind: form.KindBool, Commitment: true},
					{Name: "commit_site_access", Label: "We will grant site access for inspection", Kind: form.KindBool, Commitment: true},
				},
			},
			{
				Number: 6,
				Title:  "Declaration",
				Fields: []form.Field{
					{Name: "signatory_name", Label: "Name of signatory", Kind: form.KindText, Required: true},
					{Name: "signatory_position", Label: "Position", Kind: form.KindText, Required: true},
					{Name: "declaration_accepted", Label: "I declare the information given is true", Kind: form.KindBool, Commitment: true},
				},
			},
		},
	}
}
