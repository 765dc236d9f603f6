// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/meshbridge/lib/version"
)

// Exit codes.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

// exitError carries a specific exit code with its cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

// configError marks a configuration problem (exit code 2).
func configError(format string, args ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, args...)}
}

// streams are the process's standard streams, replaced in tests.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(execute(os.Args[1:], streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}))
}

// execute runs one invocation and returns its exit code.
func execute(args []string, std streams) int {
	err := dispatch(args, std)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(std.stderr, "error: %v\n", err)
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return exitFatal
}

func dispatch(args []string, std streams) error {
	if len(args) > 0 {
		switch args[0] {
		case "--version", "version":
			fmt.Fprintf(std.stdout, "meshbridge %s\n", version.Info())
			return nil
		case "run":
			return runBridge(args[1:], std)
		case "status":
			return runStatus(args[1:], std)
		case "seal-token":
			return runSealToken(args[1:], std)
		case "keygen":
			return runKeygen(args[1:], std)
		case "help":
			printUsage(std.stdout)
			return nil
		}
	}
	return runBridge(args, std)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `meshbridge - relay MeshCore radio traffic to and from Discord

USAGE
    meshbridge [run] [--config <path>]
    meshbridge status [--socket <path> | --config <path>]
    meshbridge seal-token --recipient <age1...> [--output <path>]
    meshbridge keygen --identity-file <path>
    meshbridge --version

The config path defaults to $MESHBRIDGE_CONFIG.

EXIT STATUS
    0  clean shutdown
    1  fatal link failure (rejected token, unsupported firmware)
    2  configuration could not be loaded or is invalid
`)
}
