// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the meshbridge configuration file.
//
// The file is named by the MESHBRIDGE_CONFIG environment variable (via
// [Load]) or the --config flag (via [LoadFile]). There is no search
// path and no environment override of individual keys: what the file
// says is what runs. Files ending in .json or .jsonc are read as JSON
// with comments and trailing commas; anything else is YAML.
//
// After decoding, ${VAR} and ${VAR:-default} are expanded in the token
// and path fields so that secrets and host-specific paths can stay out
// of the file. [Config.Validate] reports every problem at once.
package config
