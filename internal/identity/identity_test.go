package identity

import (
	"auction-engine/internal/biddingerrors"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStaticDirectory_Resolve(t *testing.T) {
	dir := NewStaticDirectory([]string{"admin1", " ", "admin2 "})
	ctx := context.Background()

	p, err := dir.Resolve(ctx, "admin2")
	require.NoError(t, err)
	require.True(t, p.Admin)

	p, err = dir.Resolve(ctx, "buyer")
	require.NoError(t, err)
	require.False(t, p.Admin)
	require.Equal(t, "buyer", p.ID)

	_, err = dir.Resolve(ctx, "   ")
	require.True(t, errors.Is(err, biddingerrors.ErrUnauthenticated))
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	token, err := IssueToken(secret, "user-42", time.Hour, now)
	require.NoError(t, err)

	sub, err := ParseToken(secret, token)
	require.NoError(t, err)
	require.Equal(t, "user-42", sub)

	_, err = ParseToken([]byte("other-secret"), token)
	require.True(t, errors.Is(err, ErrInvalidToken))

	expired, err := IssueToken(secret, "user-42", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	require.True(t, errors.Is(err, ErrInvalidToken))

	_, err = ParseToken(secret, "")
	require.True(t, errors.Is(err, ErrInvalidToken))

	_, err = IssueToken(secret, "", time.Hour, now)
	require.Error(t, err)
}
