// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// meshbridge relays traffic between a MeshCore companion radio and
// Discord channels.
//
//	meshbridge [run] [--config path]
//	meshbridge status [--socket path | --config path]
//	meshbridge seal-token --recipient age1... [--output path]
//	meshbridge keygen --identity-file path
//
// The configuration file is YAML or JSONC and is named by --config or
// the MESHBRIDGE_CONFIG environment variable. Exit status is 0 after a
// clean shutdown, 1 after a fatal link failure (rejected token,
// unsupported firmware), and 2 when the configuration cannot be loaded
// or is invalid.
//
// seal-token and keygen manage an age-encrypted bot token: keygen
// writes an identity and prints its recipient, seal-token encrypts the
// token read from stdin to that recipient. Point discord.token_file at
// the sealed file and discord.identity_file at the identity.
package main
