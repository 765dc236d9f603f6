// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the Discord bot token at rest encrypted with
// age (https://age-encryption.org).
//
// A sealed token file is the armored age encryption of the token to one
// or more X25519 recipients. The bridge decrypts it at startup with the
// identity file named in configuration; plaintext only ever lands in a
// [secret.Buffer]. `meshbridge seal-token` produces such files.
package sealed
