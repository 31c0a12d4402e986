/*
 * Copyright 2025 BranchWatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package probe

import (
	"fmt"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// SNMPSession is one connected agent conversation. Sessions are not safe for
// concurrent use; callers own one per in-flight poll.
type SNMPSession struct {
	client  *gosnmp.GoSNMP
	maxWalk int
}

// NewSNMPSession builds a session for the target from decrypted credentials.
// Connect must be called before any request.
func NewSNMPSession(target string, port uint16, cred models.SNMPCredential, cfg models.ProbeConfig) (*SNMPSession, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	if port == 0 {
		port = cfg.SNMPPort
	}

	client := &gosnmp.GoSNMP{
		Target:             target,
		Port:               port,
		Timeout:            cfg.SNMPTimeout,
		Retries:            cfg.SNMPRetries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}

	switch cred.Version {
	case models.SNMPVersion2c:
		client.Version = gosnmp.Version2c
		client.Community = cred.Community

		if client.Community == "" {
			client.Community = cfg.SNMPCommunity
		}
	case models.SNMPVersion3:
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel

		flags, err := v3SecurityLevel(cred)
		if err != nil {
			return nil, err
		}

		client.MsgFlags = flags

		usm := &gosnmp.UsmSecurityParameters{UserName: cred.Username}

		if flags == gosnmp.AuthNoPriv || flags == gosnmp.AuthPriv {
			if err := configureV3Auth(usm, cred); err != nil {
				return nil, err
			}
		}

		if flags == gosnmp.AuthPriv {
			if err := configureV3Privacy(usm, cred); err != nil {
				return nil, err
			}
		}

		client.SecurityParameters = usm
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSNMPVersion, cred.Version)
	}

	maxWalk := cfg.SNMPMaxWalk
	if maxWalk <= 0 {
		maxWalk = models.DefaultProbeConfig().SNMPMaxWalk
	}

	return &SNMPSession{client: client, maxWalk: maxWalk}, nil
}

// v3SecurityLevel resolves the credential's security level. An empty level is
// inferred from which credential fields are populated; an unrecognized level
// is an error, not a downgrade.
func v3SecurityLevel(cred models.SNMPCredential) (gosnmp.SnmpV3MsgFlags, error) {
	switch strings.ToLower(cred.SecurityLevel) {
	case "noauthnopriv":
		return gosnmp.NoAuthNoPriv, nil
	case "authnopriv":
		return gosnmp.AuthNoPriv, nil
	case "authpriv":
		return gosnmp.AuthPriv, nil
	case "":
		switch {
		case cred.PrivProtocol != "" || cred.PrivPassword != "":
			return gosnmp.AuthPriv, nil
		case cred.AuthProtocol != "" || cred.AuthPassword != "":
			return gosnmp.AuthNoPriv, nil
		default:
			return gosnmp.NoAuthNoPriv, nil
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSecurityLevel, cred.SecurityLevel)
	}
}

func configureV3Auth(usm *gosnmp.UsmSecurityParameters, cred models.SNMPCredential) error {
	switch strings.ToUpper(cred.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuthProtocol, cred.AuthProtocol)
	}

	usm.AuthenticationPassphrase = cred.AuthPassword

	return nil
}

func configureV3Privacy(usm *gosnmp.UsmSecurityParameters, cred models.SNMPCredential) error {
	switch strings.ToUpper(cred.PrivProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPrivProtocol, cred.PrivProtocol)
	}

	usm.PrivacyPassphrase = cred.PrivPassword

	return nil
}

// Connect opens the UDP conversation.
func (s *SNMPSession) Connect() error {
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("probe: connect %s: %w", s.client.Target, err)
	}

	return nil
}

// Close tears down the conversation.
func (s *SNMPSession) Close() error {
	if s.client.Conn != nil {
		return s.client.Conn.Close()
	}

	return nil
}

// Get fetches scalar OIDs and returns them keyed by OID.
func (s *SNMPSession) Get(oids []string) (map[string]gosnmp.SnmpPDU, error) {
	packet, err := s.client.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("probe: get %s: %w", s.client.Target, err)
	}

	result := make(map[string]gosnmp.SnmpPDU, len(packet.Variables))

	for _, pdu := range packet.Variables {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			continue
		}

		result[pdu.Name] = pdu
	}

	if len(result) == 0 {
		return nil, ErrNoSuchObject
	}

	return result, nil
}

// Walk runs a GETBULK walk under the root OID, invoking fn per row. The walk
// is capped: a misbehaving agent that mirrors the tree back cannot wedge the
// poller.
func (s *SNMPSession) Walk(rootOID string, fn func(pdu gosnmp.SnmpPDU) error) error {
	count := 0

	err := s.client.BulkWalk(rootOID, func(pdu gosnmp.SnmpPDU) error {
		count++
		if count > s.maxWalk {
			return ErrWalkLimitExceeded
		}

		return fn(pdu)
	})
	if err != nil {
		return fmt.Errorf("probe: walk %s %s: %w", s.client.Target, rootOID, err)
	}

	return nil
}

// PDUString decodes a string-valued PDU. OctetStrings arrive as []byte.
func PDUString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// PDUUint64 decodes an integer-valued PDU, including Counter64.
func PDUUint64(pdu gosnmp.SnmpPDU) uint64 {
	return gosnmp.ToBigInt(pdu.Value).Uint64()
}

// PDUInt decodes a small integer PDU (admin/oper status, ifType).
func PDUInt(pdu gosnmp.SnmpPDU) int {
	return int(gosnmp.ToBigInt(pdu.Value).Int64())
}

// PDUPhysAddress renders a MAC-style OctetString as colon-hex.
func PDUPhysAddress(pdu gosnmp.SnmpPDU) string {
	raw, ok := pdu.Value.([]byte)
	if !ok || len(raw) == 0 {
		return ""
	}

	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}

	return strings.Join(parts, ":")
}
