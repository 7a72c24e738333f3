// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript"
	"github.com/spf13/cobra"
)

func init() {
	submitCmd.Flags().String("content", "", "Text to submit")
	submitCmd.Flags().String("file", "", "File whose contents are submitted")
	submitCmd.MarkFlagsMutuallyExclusive("content", "file")
	submitCmd.MarkFlagsOneRequired("content", "file")

	decryptCmd.Flags().Uint64("id", 0, "Manuscript id")
	_ = decryptCmd.MarkFlagRequired("id")

	getCmd.Flags().Uint64("id", 0, "Manuscript id")
	_ = getCmd.MarkFlagRequired("id")

	listCmd.Flags().String("author", "", "Author address, defaults to the configured signer")
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Encrypt and submit a manuscript",
	RunE: func(cmd *cobra.Command, _ []string) error {
		content, _ := cmd.Flags().GetString("content")
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			content = string(raw)
		}

		ctx := cmd.Context()
		c, err := newClient(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.createInstance(ctx); err != nil {
			return err
		}
		status, err := c.manager.SubmitManuscript(ctx, content)
		if err != nil {
			return err
		}
		return outcomeError(status)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt one of your manuscripts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetUint64("id")

		ctx := cmd.Context()
		c, err := newClient(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.createInstance(ctx); err != nil {
			return err
		}
		status, err := c.manager.DecryptManuscript(ctx, id)
		if err != nil {
			return err
		}
		if err := outcomeError(status); err != nil {
			return err
		}
		text, _ := c.manager.Decrypted(id)
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the manuscripts of an author",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		c, err := newClient(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		l, err := c.requireLedger()
		if err != nil {
			return err
		}
		var author common.Address
		switch raw, _ := cmd.Flags().GetString("author"); {
		case raw != "":
			if !common.IsHexAddress(raw) {
				return fmt.Errorf("invalid author address %q", raw)
			}
			author = common.HexToAddress(raw)
		case c.signer != nil:
			author = c.signer.Address()
		default:
			return errNoSigner
		}

		ids, err := l.GetAuthorManuscripts(ctx, author)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d manuscripts by %s\n", len(ids), author)
		for _, id := range ids {
			r, err := l.GetManuscript(ctx, id)
			if err != nil {
				return err
			}
			printRecord(out, r)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a manuscript record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetUint64("id")

		ctx := cmd.Context()
		c, err := newClient(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		l, err := c.requireLedger()
		if err != nil {
			return err
		}
		r, err := l.GetManuscript(ctx, id)
		if err != nil {
			return err
		}
		if !r.Exists {
			return fmt.Errorf("%w: id %d", manuscript.ErrNotFound, id)
		}
		printRecord(cmd.OutOrStdout(), r)
		return nil
	},
}

var totalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show the number of stored manuscripts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		c, err := newClient(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		l, err := c.requireLedger()
		if err != nil {
			return err
		}
		total, err := l.GetTotalManuscripts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Total manuscripts: %d\n", total)
		return nil
	},
}

var errNotCompleted = errors.New("operation did not complete")

// outcomeError turns a neutral non-success status into a non-zero exit.
func outcomeError(status manuscript.Status) error {
	switch status.Outcome {
	case manuscript.OutcomeSucceeded:
		return nil
	default:
		return fmt.Errorf("%w: %s", errNotCompleted, status.Message)
	}
}
