package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/spf13/cobra"
)

func newRequestCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "request <command> [json-params]",
		Short: "Send one command and print its result",
		Example: `  ledgerwatch request server_info
  ledgerwatch request account_info '{"account":"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errorf("params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return a.request(ctx, args[0], params)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for connecting and the response")
	return cmd
}

func (a *app) request(ctx context.Context, command string, params any) error {
	c, release, err := a.newClient()
	if err != nil {
		return err
	}
	defer release()

	connected := make(chan struct{})
	c.Connect(a.cfg.Address, func(*client.Client) { close(connected) })
	select {
	case <-connected:
	case <-ctx.Done():
		return errorf("connect to %s: %w", a.cfg.Address, ctx.Err())
	}

	payload, err := c.Request(command, params).Wait(ctx)
	if err != nil {
		return errorf("%s: %w", command, err)
	}
	return newPrinter(a.out, a.compact).Raw(payload)
}
