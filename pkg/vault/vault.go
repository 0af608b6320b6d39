/*
 * Copyright 2025 Carver Automation Corporation.
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

// Package vault decrypts stored device credentials using a rotating ring of
// Fernet keys. The first key is the primary key: it is used for every
// encryption. Decryption tries each key in order.
package vault

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"github.com/mfreeman451/routeradar/pkg/models"
)

// noTTL disables the token age check; stored credentials do not expire.
const noTTL = -1

var (
	ErrVaultNoKeys         = errors.New("no vault keys configured")
	ErrVaultInvalidKey     = errors.New("invalid vault key")
	ErrVaultDecrypt        = errors.New("ciphertext could not be decrypted with any configured key")
	ErrVaultEmptyPlaintext = errors.New("refusing to encrypt empty plaintext")
)

// VaultError is returned for every vault failure. It never carries key material
// or plaintext.
type VaultError struct {
	Op  string
	Err error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault %s failed: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// Vault holds the ordered key ring.
type Vault struct {
	keys []*fernet.Key
}

// New builds a vault from base64 Fernet keys, newest first. An empty list is a
// fatal configuration error.
func New(keys ...string) (*Vault, error) {
	if len(keys) == 0 {
		return nil, &VaultError{Op: "init", Err: ErrVaultNoKeys}
	}

	ring := make([]*fernet.Key, 0, len(keys))

	for i, k := range keys {
		decoded, err := fernet.DecodeKey(k)
		if err != nil {
			// the key itself is deliberately left out of the message
			return nil, &VaultError{Op: "init", Err: fmt.Errorf("%w at position %d", ErrVaultInvalidKey, i)}
		}

		ring = append(ring, decoded)
	}

	return &Vault{keys: ring}, nil
}

// Encrypt encrypts plaintext under the primary key.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", &VaultError{Op: "encrypt", Err: ErrVaultEmptyPlaintext}
	}

	tok, err := fernet.EncryptAndSign([]byte(plaintext), v.keys[0])
	if err != nil {
		return "", &VaultError{Op: "encrypt", Err: err}
	}

	return string(tok), nil
}

// Decrypt returns the plaintext of ciphertext, trying each key newest first.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), noTTL, v.keys)
	if msg == nil {
		return "", &VaultError{Op: "decrypt", Err: ErrVaultDecrypt}
	}

	return string(msg), nil
}

// Rotate re-encrypts ciphertext under the primary key.
func (v *Vault) Rotate(ciphertext string) (string, error) {
	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}

	return v.Encrypt(plaintext)
}

// DecryptCredentials returns the username and password stored on device.
func (v *Vault) DecryptCredentials(device *models.Device) (username, password string, err error) {
	username, err = v.Decrypt(device.EncryptedUsername)
	if err != nil {
		return "", "", fmt.Errorf("username for device %d: %w", device.ID, err)
	}

	password, err = v.Decrypt(device.EncryptedPassword)
	if err != nil {
		return "", "", fmt.Errorf("password for device %d: %w", device.ID, err)
	}

	return username, password, nil
}
