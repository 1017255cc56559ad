package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "sma"}, nil)
	token, err := svc.IssueToken("user-1", models.RoleTeacher, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestTokenServiceRejects(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret"}, nil)

	expired, err := svc.IssueToken("user-1", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	other := NewTokenService(TokenConfig{Secret: "other"}, nil)
	foreign, err := other.IssueToken("user-1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	unknownRole, err := svc.IssueToken("user-1", models.UserRole("STUDENT"), time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unknownRole)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
