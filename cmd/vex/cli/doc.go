// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework shared by vex and
// vexd.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Each binary assembles its tree in main.go and dispatches
// it via [Command.Execute], which handles flag parsing, subcommand
// routing, and help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// Flags are usually declared as tagged struct fields and bound with
// [FlagsFromParams]. [JSONOutput] adds a --json flag to any params
// struct.
//
// [Output] formats the per-connection lines that vex prints when a
// command fans out to several daemons, and [ReadSecret] reads a pairing
// string from the terminal without echo.
package cli
