// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Output writes command results. Lines about a particular connection
// carry a "[name]" label so interleaved fan-out output stays
// attributable. Styling follows the destination: a terminal gets color,
// a pipe or file gets plain text.
type Output struct {
	stdout io.Writer
	stderr io.Writer

	label   lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

// NewOutput returns an Output writing results to stdout and failures to
// stderr.
func NewOutput(stdout, stderr io.Writer) *Output {
	outRenderer := lipgloss.NewRenderer(stdout)
	errRenderer := lipgloss.NewRenderer(stderr)
	return &Output{
		stdout:  stdout,
		stderr:  stderr,
		label:   outRenderer.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		failure: errRenderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   outRenderer.NewStyle().Faint(true),
		bold:    outRenderer.NewStyle().Bold(true),
	}
}

// Stdout returns the result writer.
func (o *Output) Stdout() io.Writer { return o.stdout }

// Println writes one unlabeled line.
func (o *Output) Println(format string, args ...any) {
	fmt.Fprintf(o.stdout, format+"\n", args...)
}

// Labeled writes text with every line prefixed by "[name] ".
func (o *Output) Labeled(name, text string) {
	prefix := o.label.Render("[" + name + "]")
	for line := range strings.SplitSeq(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(o.stdout, "%s %s\n", prefix, line)
	}
}

// LabeledError writes "[name] error: err" to stderr.
func (o *Output) LabeledError(name string, err error) {
	prefix := o.label.Render("[" + name + "]")
	fmt.Fprintf(o.stderr, "%s %s %v\n", prefix, o.failure.Render("error:"), err)
}

// Error writes "error: err" to stderr.
func (o *Output) Error(err error) {
	fmt.Fprintf(o.stderr, "%s %v\n", o.failure.Render("error:"), err)
}

// Bold renders s emphasized.
func (o *Output) Bold(s string) string { return o.bold.Render(s) }

// Muted renders s de-emphasized.
func (o *Output) Muted(s string) string { return o.muted.Render(s) }
