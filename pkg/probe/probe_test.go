package probe

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		wantErr bool
	}{
		{name: "valid v4", ip: "10.20.30.5"},
		{name: "valid v6", ip: "2001:db8::1"},
		{name: "empty", ip: "", wantErr: true},
		{name: "hostname", ip: "router.branch.local", wantErr: true},
		{name: "multicast", ip: "224.0.0.1", wantErr: true},
		{name: "unspecified", ip: "0.0.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTarget(tt.ip)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPingerDefaultsConcurrency(t *testing.T) {
	cfg := models.DefaultProbeConfig()
	cfg.PingConcurrency = 0

	p := NewPinger(cfg, logger.NewTestLogger())
	require.NotNil(t, p.sem)
}

func TestNewSNMPSessionV2c(t *testing.T) {
	cfg := models.DefaultProbeConfig()

	session, err := NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{
		Version:   models.SNMPVersion2c,
		Community: "branch-ro",
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, gosnmp.Version2c, session.client.Version)
	assert.Equal(t, "branch-ro", session.client.Community)
	assert.Equal(t, uint16(161), session.client.Port)
	assert.Equal(t, cfg.SNMPMaxWalk, session.maxWalk)
}

func TestNewSNMPSessionV2cFallsBackToDefaultCommunity(t *testing.T) {
	cfg := models.DefaultProbeConfig()

	session, err := NewSNMPSession("192.168.1.1", 1161, models.SNMPCredential{
		Version: models.SNMPVersion2c,
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "public", session.client.Community)
	assert.Equal(t, uint16(1161), session.client.Port)
}

func TestNewSNMPSessionV3(t *testing.T) {
	session, err := NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{
		Version:      models.SNMPVersion3,
		Username:     "monitor",
		AuthProtocol: "SHA256",
		AuthPassword: "auth-secret",
		PrivProtocol: "AES",
		PrivPassword: "priv-secret",
	}, models.DefaultProbeConfig())
	require.NoError(t, err)

	assert.Equal(t, gosnmp.Version3, session.client.Version)

	usm, ok := session.client.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, "monitor", usm.UserName)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)
	assert.Equal(t, gosnmp.AuthPriv, session.client.MsgFlags)
}

func TestNewSNMPSessionV3SecurityLevels(t *testing.T) {
	tests := []struct {
		name      string
		cred      models.SNMPCredential
		wantFlags gosnmp.SnmpV3MsgFlags
	}{
		{
			name: "noAuthNoPriv",
			cred: models.SNMPCredential{
				Version:       models.SNMPVersion3,
				Username:      "monitor",
				SecurityLevel: "noAuthNoPriv",
			},
			wantFlags: gosnmp.NoAuthNoPriv,
		},
		{
			name: "authNoPriv",
			cred: models.SNMPCredential{
				Version:       models.SNMPVersion3,
				Username:      "monitor",
				SecurityLevel: "authNoPriv",
				AuthProtocol:  "SHA",
				AuthPassword:  "auth-secret",
			},
			wantFlags: gosnmp.AuthNoPriv,
		},
		{
			name: "authPriv",
			cred: models.SNMPCredential{
				Version:       models.SNMPVersion3,
				Username:      "monitor",
				SecurityLevel: "authPriv",
				AuthProtocol:  "SHA256",
				AuthPassword:  "auth-secret",
				PrivProtocol:  "AES",
				PrivPassword:  "priv-secret",
			},
			wantFlags: gosnmp.AuthPriv,
		},
		{
			name: "inferred from auth fields only",
			cred: models.SNMPCredential{
				Version:      models.SNMPVersion3,
				Username:     "monitor",
				AuthProtocol: "MD5",
				AuthPassword: "auth-secret",
			},
			wantFlags: gosnmp.AuthNoPriv,
		},
		{
			name: "inferred bare username",
			cred: models.SNMPCredential{
				Version:  models.SNMPVersion3,
				Username: "monitor",
			},
			wantFlags: gosnmp.NoAuthNoPriv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := NewSNMPSession("192.168.1.1", 0, tt.cred, models.DefaultProbeConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlags, session.client.MsgFlags)
		})
	}
}

func TestNewSNMPSessionV3RejectsBadProtocols(t *testing.T) {
	_, err := NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{
		Version:       models.SNMPVersion3,
		Username:      "monitor",
		SecurityLevel: "authNoPriv",
		AuthProtocol:  "ROT13",
	}, models.DefaultProbeConfig())
	assert.ErrorIs(t, err, ErrUnknownAuthProtocol)

	_, err = NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{
		Version:       models.SNMPVersion3,
		Username:      "monitor",
		SecurityLevel: "authPriv",
		AuthProtocol:  "SHA",
		AuthPassword:  "auth-secret",
		PrivProtocol:  "XOR",
	}, models.DefaultProbeConfig())
	assert.ErrorIs(t, err, ErrUnknownPrivProtocol)

	_, err = NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{
		Version:       models.SNMPVersion3,
		Username:      "monitor",
		SecurityLevel: "maximum",
	}, models.DefaultProbeConfig())
	assert.ErrorIs(t, err, ErrUnknownSecurityLevel)
}

func TestNewSNMPSessionUnknownVersion(t *testing.T) {
	_, err := NewSNMPSession("192.168.1.1", 0, models.SNMPCredential{Version: "v1"}, models.DefaultProbeConfig())
	assert.ErrorIs(t, err, ErrUnsupportedSNMPVersion)
}

func TestPDUHelpers(t *testing.T) {
	assert.Equal(t, "GigabitEthernet0/0",
		PDUString(gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("GigabitEthernet0/0")}))
	assert.Equal(t, "", PDUString(gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 7}))

	assert.Equal(t, uint64(1234567890123), PDUUint64(gosnmp.SnmpPDU{Type: gosnmp.Counter64, Value: uint64(1234567890123)}))
	assert.Equal(t, 2, PDUInt(gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 2}))

	assert.Equal(t, "00:1a:2b:3c:4d:5e",
		PDUPhysAddress(gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}}))
	assert.Equal(t, "", PDUPhysAddress(gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte{}}))
}
