package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService([]byte("0123456789abcdef0123456789abcdef"), "canopy-portal")

	token, err := svc.Sign(map[string]interface{}{"subjectId": "a1", "exp": 1})
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err, "expiry is not enforced by the service")
	assert.Equal(t, "a1", claims["subjectId"])
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService([]byte("secret-one"), "canopy-portal")
	token, err := svc.Sign(map[string]interface{}{"subjectId": "a1"})
	require.NoError(t, err)

	_, err = NewJWTService([]byte("secret-two"), "canopy-portal").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService([]byte("secret-one"), "someone-else").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = svc.Validate(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
