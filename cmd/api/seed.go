package main

import (
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/canopy-portal/internal/repository/memory"
)

// Demo accounts for the memory backend. The admin password satisfies the
// default password policy.
const (
	demoAdminEmail    = "admin@canopy.example.org"
	demoAdminPassword = "Canopy-Admin-2024!"
	demoOrgEmail      = "greenroots@canopy.example.org"
	demoPendingEmail  = "pending@canopy.example.org"
	demoPlanterEmail  = "planter@canopy.example.org"
)

func seed(b *memory.Backend) error {
	if _, err := b.AddAdmin(demoAdminEmail, demoAdminPassword, "Demo Admin", "super_admin"); err != nil {
		return err
	}
	if _, err := b.AddOrganization(demoOrgEmail, "Green Roots Collective", "", true); err != nil {
		return err
	}
	if _, err := b.AddOrganization(demoPendingEmail, "Pending Orchard Trust", "", false); err != nil {
		return err
	}
	b.AddPlanter(demoPlanterEmail, "Demo Planter", 42)

	log.Info().
		Str("admin", demoAdminEmail).
		Str("organization", demoOrgEmail).
		Str("pending_organization", demoPendingEmail).
		Str("planter", demoPlanterEmail).
		Msg("seeded demo accounts")
	return nil
}
