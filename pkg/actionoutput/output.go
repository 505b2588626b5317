/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package actionoutput writes GitHub Actions step outputs.
//
// See https://docs.github.com/en/actions/using-workflows/workflow-commands-for-github-actions#setting-an-output-parameter
package actionoutput

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Writer appends name/value pairs in the GITHUB_OUTPUT file format.
type Writer struct {
	path string
	out  io.Writer

	// delimiter generates heredoc delimiters for multi-line values.
	delimiter func() string
}

// NewFileWriter returns a Writer appending to the file at path, usually the
// value of GITHUB_OUTPUT. The file is opened for every Set.
func NewFileWriter(path string) *Writer {
	return &Writer{path: path, delimiter: newDelimiter}
}

// NewWriter returns a Writer emitting to w, for runs outside of GitHub Actions.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w, delimiter: newDelimiter}
}

func newDelimiter() string {
	return "ghadelimiter_" + uuid.NewString()
}

// Set records one output.
func (w *Writer) Set(name, value string) error {
	if name == "" {
		return errors.New("output name must not be empty")
	}

	record, err := w.format(name, value)
	if err != nil {
		return err
	}

	if w.out != nil {
		_, err := io.WriteString(w.out, record)
		return err
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	if _, err := f.WriteString(record); err != nil {
		f.Close()
		return fmt.Errorf("writing output %q: %w", name, err)
	}
	return f.Close()
}

func (w *Writer) format(name, value string) (string, error) {
	if !strings.ContainsAny(value, "\r\n") {
		return fmt.Sprintf("%s=%s\n", name, value), nil
	}
	delim := w.delimiter()
	if strings.Contains(name, delim) || strings.Contains(value, delim) {
		return "", fmt.Errorf("output %q collides with delimiter %q", name, delim)
	}
	return fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delim, value, delim), nil
}
