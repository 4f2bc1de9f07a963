package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/lightforgemedia/go-ledgerclient/pkg/config"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/notify"
	"github.com/lightforgemedia/go-ledgerclient/pkg/relay"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var noRelay bool
	cmd := &cobra.Command{
		Use:   "watch [streams...]",
		Short: "Print push events until interrupted",
		Long: `Subscribe to the given streams (default: the config file's streams) and print
every event. With nats.url configured, events are also published to
<subjectPrefix>.<stream>. When --config is set, editing the file's address
moves the client to the new node.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, args, noRelay)
		},
	}
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not publish events to NATS")
	return cmd
}

func (a *app) watch(ctx context.Context, args []string, noRelay bool) error {
	streams := args
	if len(streams) == 0 {
		streams = a.cfg.Streams
	}
	if len(streams) == 0 {
		return errorf("no streams to watch")
	}

	c, release, err := a.newClient()
	if err != nil {
		return err
	}
	defer release()

	out := newPrinter(a.out, a.compact)
	for _, s := range streams {
		c.Subscribe(envelope.Stream(s), out.Event)
	}

	if a.cfg.NATS.URL != "" && !noRelay {
		r, err := relay.Dial(relay.Options{URL: a.cfg.NATS.URL, Prefix: a.cfg.NATS.SubjectPrefix, Logger: a.logger})
		if err != nil {
			return err
		}
		defer r.Close()
		for _, s := range streams {
			c.Subscribe(envelope.Stream(s), r.Listener())
		}
	}

	notices, cancel := c.Notices(notify.KindState, notify.KindConnecting)
	defer cancel()
	go func() {
		for n := range notices {
			if n.Kind == notify.KindConnecting {
				a.logger.Debug("dialing", "attempt", n.Attempt)
				continue
			}
			a.logger.Info("connection state", "from", n.From, "to", n.To, "attempt", n.Attempt)
		}
	}()

	address := a.cfg.Address
	c.Connect(address, func(*client.Client) {
		a.logger.Info("connected", "address", address, "streams", streams)
	})

	if a.configPath != "" {
		changes := make(chan config.File, 1)
		go func() {
			if err := config.Watch(ctx, a.configPath, a.logger, func(f config.File) {
				select {
				case changes <- f:
				case <-ctx.Done():
				}
			}); err != nil {
				a.logger.Warn("config reload disabled", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-changes:
				if f.Address == address {
					continue
				}
				a.logger.Info("address changed, reconnecting", "from", address, "to", f.Address)
				address = f.Address
				c.Disconnect()
				c.Connect(address, nil)
			}
		}
	}

	<-ctx.Done()
	return nil
}
