package volunteer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/canopy-portal/internal/form"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/repository/memory"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

func TestVolunteerFlow(t *testing.T) {
	backend := memory.NewBackend(security.NewBcryptHasher(4))
	e, err := form.New(Schema(), backend, nil)
	require.NoError(t, err)

	require.NoError(t, e.SetFields(form.Fields{
		"full_name":       "Ravi Fernando",
		"email":           "ravi@example.org",
		"phone":           "0771234567",
		"date_of_birth":   "1999-01-02",
		"district":        "Galle",
		"availability":    "Weekends",
		"hours_per_month": "8",
		"consent_contact": true,
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := e.Advance(ctx)
		require.NoError(t, err)
		require.True(t, res.Advanced)
	}

	_, err = e.Submit(ctx)
	var incomplete *form.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"consent_safety"}, incomplete.Missing)

	require.NoError(t, e.SetField("consent_safety", true))
	_, err = e.Submit(ctx)
	require.NoError(t, err)

	recs := backend.Records(repository.TableVolunteers)
	require.Len(t, recs, 1)
	assert.Equal(t, 8, recs[0]["hours_per_month"])
	assert.Equal(t, false, recs[0]["has_transport"])
}
