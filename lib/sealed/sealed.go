// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/meshbridge/lib/secret"
)

// binaryHeader is the first line of an unarmored age file.
const binaryHeader = "age-encryption.org/"

// Keypair is an X25519 identity with its recipient string.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... string.
	Identity *secret.Buffer

	// Recipient is the age1... public key.
	Recipient string
}

// Close releases the identity.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh X25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	protected, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Keypair{Identity: protected, Recipient: identity.Recipient().String()}, nil
}

// Seal encrypts plaintext to recipients and returns the armored
// ciphertext. Each recipient is an age1... public key.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}
	recipients, err := age.ParseRecipients(strings.NewReader(strings.Join(recipientKeys, "\n")))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing recipients: %w", err)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// IsSealed reports whether data looks like an age file, armored or not.
func IsSealed(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte(armor.Header)) || bytes.HasPrefix(trimmed, []byte(binaryHeader))
}

// Open decrypts ciphertext (armored or binary) with identity, which
// holds the contents of an age identity file. Surrounding whitespace in
// the plaintext is trimmed.
func Open(ciphertext []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(identity.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimLeft(ciphertext, " \t\r\n"), []byte(armor.Header)) {
		source = armor.NewReader(bufio.NewReader(bytes.NewReader(bytes.TrimLeft(ciphertext, " \t\r\n"))))
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	defer secret.Zero(plaintext)

	buffer, err := secret.FromBytesTrimmed(plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return buffer, nil
}

// ReadToken loads the bot token from tokenPath. When the file is an age
// file, identityPath must name the identity that decrypts it; a
// plaintext file is read as-is and identityPath is ignored.
func ReadToken(tokenPath, identityPath string) (*secret.Buffer, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading token file: %w", err)
	}
	defer secret.Zero(data)

	if !IsSealed(data) {
		buffer, err := secret.FromBytesTrimmed(data)
		if err != nil {
			return nil, fmt.Errorf("sealed: token file %s: %w", tokenPath, err)
		}
		return buffer, nil
	}

	if identityPath == "" {
		return nil, fmt.Errorf("sealed: token file %s is encrypted but no identity file is configured", tokenPath)
	}
	identity, err := secret.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity file: %w", err)
	}
	defer identity.Close()

	return Open(data, identity)
}
