package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errInvalidBundle = errors.New("bundle is invalid")

func newValidateCmd(root *rootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a bundle without solving it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := loadRequest(input, "", "", "", "")
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				fmt.Fprintln(root.stdout, err)
				return errInvalidBundle
			}
			fmt.Fprintf(root.stdout, "ok: %d strategies\n", len(req.Input.Strategies))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "request bundle (.json or .msgpack)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
