package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/models"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("community-string"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "community-string")

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "community-string", string(opened))
}

func TestCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("too-short"))
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestCipherRejectsTamperedPayload(t *testing.T) {
	c, err := NewCipher([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewCipher([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)
}

func TestCredentialRoundTrip(t *testing.T) {
	c, err := NewCipher([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	tests := []struct {
		name string
		cred models.SNMPCredential
	}{
		{
			name: "v2c",
			cred: models.SNMPCredential{Version: models.SNMPVersion2c, Community: "branch-ro"},
		},
		{
			name: "v3",
			cred: models.SNMPCredential{
				Version:       models.SNMPVersion3,
				Username:      "monitor",
				AuthProtocol:  "SHA256",
				AuthPassword:  "auth-pass",
				PrivProtocol:  "AES",
				PrivPassword:  "priv-pass",
				SecurityLevel: "authPriv",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.EncryptCredential(&tt.cred)
			require.NoError(t, err)

			opened, err := c.DecryptCredential(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.cred, *opened)
		})
	}
}
