package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidstream/models"
)

func TestNewProvider(t *testing.T) {
	t.Run("empty secret is rejected", func(t *testing.T) {
		provider, err := NewProvider(nil, nil)

		assert.Error(t, err)
		assert.Nil(t, provider)
	})

	t.Run("valid configuration", func(t *testing.T) {
		provider, err := NewProvider(nil, []byte("secret"),
			WithProviderIssuer("test"),
			WithProviderTokenTTL(time.Hour))

		assert.NoError(t, err)
		assert.NotNil(t, provider)
	})
}

func TestProvider_IssueVerify(t *testing.T) {
	newProvider := func(t *testing.T, opts ...ProviderOption) *Provider {
		t.Helper()
		provider, err := NewProvider(nil, []byte("test-secret"), opts...)
		require.NoError(t, err)
		return provider
	}
	user := models.User{
		ID:       uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
	}

	t.Run("roundtrip restores identity", func(t *testing.T) {
		provider := newProvider(t)

		token, err := provider.Issue(user)
		require.NoError(t, err)

		who, err := provider.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, who.ID)
		assert.Equal(t, "alice", who.DisplayName)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		provider := newProvider(t)

		_, err := provider.Verify("not-a-token")

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("tampered token is rejected", func(t *testing.T) {
		provider := newProvider(t)
		token, err := provider.Issue(user)
		require.NoError(t, err)

		_, err = provider.Verify(token + "x")

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token signed with another secret is rejected", func(t *testing.T) {
		provider := newProvider(t)
		other, err := NewProvider(nil, []byte("other-secret"))
		require.NoError(t, err)
		token, err := other.Issue(user)
		require.NoError(t, err)

		_, err = provider.Verify(token)

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		provider := newProvider(t, WithProviderTokenTTL(-time.Hour))
		token, err := provider.Issue(user)
		require.NoError(t, err)

		_, err = provider.Verify(token)

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		provider := newProvider(t)
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			Username: user.Username,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   user.ID.String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = provider.Verify(token)

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token with invalid subject is rejected", func(t *testing.T) {
		provider := newProvider(t)
		bad := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Username: user.Username,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "not-a-uuid",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := bad.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = provider.Verify(token)

		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
