package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("exp-1", "gradebooks/gb-1/notas.xlsx")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	d, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "exp-1", d.ExportID)
	require.Equal(t, "gradebooks/gb-1/notas.xlsx", d.Path)
	require.WithinDuration(t, expiresAt, d.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	now := time.Now()
	signer.now = func() time.Time { return now }
	token, _, err := signer.Generate("exp-1", "notas.csv")
	require.NoError(t, err)

	signer.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = signer.Parse(token, false)
	require.Error(t, err)

	d, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "notas.csv", d.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("exp-1", "notas.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "exp-2"
	_, err = signer.Parse(strings.Join(parts, "."), false)
	require.Error(t, err)

	_, err = NewSignedURLSigner("other", time.Hour).Parse(token, false)
	require.Error(t, err)

	_, _, err = NewSignedURLSigner("", time.Hour).Generate("exp-1", "notas.csv")
	require.Error(t, err)
}
