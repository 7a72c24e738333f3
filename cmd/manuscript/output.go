// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/luxfi/manuscript"
	"github.com/luxfi/manuscript/ledger"
	"github.com/luxfi/manuscript/session"
)

var (
	progressColor = color.New(color.FgCyan)
	successColor  = color.New(color.FgGreen)
	failureColor  = color.New(color.FgRed)
	neutralColor  = color.New(color.FgYellow)
)

func printStatus(out io.Writer) func(manuscript.Status) {
	return func(s manuscript.Status) {
		switch s.Outcome {
		case manuscript.OutcomeSucceeded:
			successColor.Fprintf(out, "✓ %s\n", s.Message)
		case manuscript.OutcomeFailed:
			failureColor.Fprintf(out, "✗ %s\n", s.Message)
		case manuscript.OutcomeCancelled, manuscript.OutcomeSkipped:
			neutralColor.Fprintf(out, "- %s\n", s.Message)
		default:
			progressColor.Fprintf(out, "  %s\n", s.Message)
		}
	}
}

func printSessionStatus(out io.Writer) func(session.Status) {
	return func(s session.Status) {
		progressColor.Fprintf(out, "  FHEVM: %s\n", s)
	}
}

func printRecord(out io.Writer, r *ledger.Record) {
	fmt.Fprintf(out, "Manuscript %d\n", r.ID)
	fmt.Fprintf(out, "  Author:    %s\n", r.Author)
	fmt.Fprintf(out, "  Timestamp: %s\n", time.Unix(int64(r.Timestamp), 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Bytes:     %d\n", len(r.EncryptedContent))
}
