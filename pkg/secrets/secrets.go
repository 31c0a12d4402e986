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

// Package secrets encrypts SNMP credentials for at-rest storage. Plaintext
// credential material only ever exists in the SNMP prober's call frames.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/branchwatch/branchwatch/pkg/models"
)

const (
	keyLength   = 32
	nonceLength = 12
)

var (
	// ErrInvalidKeyLength indicates the provided key is not the required size.
	ErrInvalidKeyLength = errors.New("secrets: encryption key must be 32 bytes")
	// ErrCiphertextTooShort indicates the ciphertext payload is shorter than the nonce.
	ErrCiphertextTooShort = errors.New("secrets: ciphertext too short")
)

// Cipher wraps AES-256-GCM helpers for credential blobs.
type Cipher struct {
	key []byte
}

// NewCipher constructs a Cipher from the provided key bytes.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}

	buf := make([]byte, keyLength)
	copy(buf, key)

	return &Cipher{key: buf}, nil
}

// NewCipherFromBase64 decodes a base64 key and constructs a Cipher. Raw
// 32-byte keys are also accepted for compatibility with older deployments.
func NewCipherFromBase64(encoded string) (*Cipher, error) {
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(decoded) == keyLength {
		return NewCipher(decoded)
	}

	return NewCipher([]byte(encoded))
}

// Encrypt serialises plaintext using AES-256-GCM and returns a base64 payload.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: init gcm: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt and returns the original plaintext bytes.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode ciphertext: %w", err)
	}

	if len(payload) < nonceLength {
		return nil, ErrCiphertextTooShort
	}

	nonce := payload[:nonceLength]
	ciphertext := payload[nonceLength:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt payload: %w", err)
	}

	return plaintext, nil
}

// EncryptCredential seals an SNMP credential for storage on the device row.
func (c *Cipher) EncryptCredential(cred *models.SNMPCredential) (string, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("secrets: marshal credential: %w", err)
	}

	return c.Encrypt(payload)
}

// DecryptCredential opens a sealed credential payload.
func (c *Cipher) DecryptCredential(encoded string) (*models.SNMPCredential, error) {
	payload, err := c.Decrypt(encoded)
	if err != nil {
		return nil, err
	}

	var cred models.SNMPCredential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return nil, fmt.Errorf("secrets: unmarshal credential: %w", err)
	}

	return &cred, nil
}
