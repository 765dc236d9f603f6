// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/meshbridge/lib/sealed"
	"github.com/bureau-foundation/meshbridge/lib/secret"
)

// maxTokenInput bounds what seal-token reads from stdin.
const maxTokenInput = 4096

// runSealToken encrypts the token on stdin to one or more age
// recipients.
func runSealToken(args []string, std streams) error {
	var recipients []string
	var outputPath string
	flagSet := pflag.NewFlagSet("meshbridge seal-token", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age recipient (age1...); repeatable")
	flagSet.StringVarP(&outputPath, "output", "o", "", "write the sealed token here instead of stdout")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return configError("%w", err)
	}
	if len(recipients) == 0 {
		return configError("at least one --recipient is required")
	}

	data, err := io.ReadAll(io.LimitReader(std.stdin, maxTokenInput))
	if err != nil {
		return fmt.Errorf("reading token from stdin: %w", err)
	}
	token, err := secret.FromBytesTrimmed(data)
	secret.Zero(data)
	if err != nil {
		return fmt.Errorf("reading token from stdin: %w", err)
	}
	defer token.Close()

	ciphertext, err := sealed.Seal(token.Bytes(), recipients)
	if err != nil {
		return err
	}
	if outputPath == "" {
		_, err := std.stdout.Write(ciphertext)
		return err
	}
	if err := os.WriteFile(outputPath, ciphertext, 0o600); err != nil {
		return fmt.Errorf("writing sealed token: %w", err)
	}
	return nil
}

// runKeygen writes a fresh age identity and prints its recipient.
func runKeygen(args []string, std streams) error {
	var identityPath string
	flagSet := pflag.NewFlagSet("meshbridge keygen", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVarP(&identityPath, "identity-file", "i", "", "where to write the identity (required)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return configError("%w", err)
	}
	if identityPath == "" {
		return configError("--identity-file is required")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	file, err := os.OpenFile(identityPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "# recipient: %s\n%s\n", keypair.Recipient, keypair.Identity.String()); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	fmt.Fprintln(std.stdout, keypair.Recipient)
	return nil
}
