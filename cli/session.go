package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"filenet/config"
	"filenet/discovery"
	"filenet/dispatch"
	"filenet/models"
	"filenet/network"
	"filenet/storage"
	"filenet/transfer"
	"filenet/ui"
)

const sessionPollInterval = 200 * time.Millisecond

type sessionOptions struct {
	send    []string
	stay    bool
	streams int
}

func newListenCommand(root *rootOptions) *cobra.Command {
	opts := &sessionOptions{}
	var port int

	cmd := &cobra.Command{
		Use:   "listen [address...]",
		Short: "wait for a peer to connect",
		Long: `Listen on the given a.b.c.d[:port] addresses, or on every local IPv4
interface when none are given, and serve the first peer that connects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, root, opts, func(env *environment, d *dispatch.Dispatcher) error {
				if len(args) > 0 {
					for _, address := range args {
						d.Post(dispatch.Listen{Address: address})
					}
					return nil
				}

				var listenPort uint16
				if env.cfg.PortMode == config.PortModeFixed {
					listenPort = uint16(env.cfg.ListenPort)
				}
				if cmd.Flags().Changed("port") {
					listenPort = uint16(port)
				}
				addresses, err := discovery.LocalIPv4(discovery.Config{IncludeLoopback: true})
				if err != nil {
					return err
				}
				if len(addresses) == 0 {
					return errors.New("no local IPv4 interface to listen on")
				}
				for _, endpoint := range discovery.Populate(d.Endpoints(), network.KindListen, listenPort, addresses, linkOptions(env.cfg)) {
					endpoint.Start()
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port for interface listeners (default: the configured port in fixed mode, else any)")
	addSessionFlags(cmd, opts)
	return cmd
}

func newConnectCommand(root *rootOptions) *cobra.Command {
	opts := &sessionOptions{}

	cmd := &cobra.Command{
		Use:   "connect address",
		Short: "connect to a listening peer",
		Long:  `Connect to a peer listening on a.b.c.d:port. With --send, exit once every file was delivered unless --stay is set.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, root, opts, func(_ *environment, d *dispatch.Dispatcher) error {
				d.Post(dispatch.Connect{Address: args[0]})
				return nil
			})
		},
	}

	addSessionFlags(cmd, opts)
	return cmd
}

func addSessionFlags(cmd *cobra.Command, opts *sessionOptions) {
	cmd.Flags().StringSliceVarP(&opts.send, "send", "s", nil, "files to send once linked")
	cmd.Flags().BoolVar(&opts.stay, "stay", false, "keep running after the files were sent")
	cmd.Flags().IntVar(&opts.streams, "streams", dispatch.DefaultInitialStreams, "data connections to open per link")
}

func linkOptions(cfg *config.DeviceConfig) network.LinkOptions {
	return network.LinkOptions{
		Local:     models.Peer{Name: cfg.DeviceName},
		IOTimeout: cfg.IOTimeout(),
	}
}

// runSession runs a dispatcher until interrupted, or until the files given
// with --send are delivered.
func runSession(cmd *cobra.Command, root *rootOptions, opts *sessionOptions, start func(*environment, *dispatch.Dispatcher) error) error {
	env, err := openEnvironment(root.dataDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = env.Close()
	}()

	names := make([]string, 0, len(opts.send))
	for _, path := range opts.send {
		name, err := env.catalogPath(path)
		if err != nil {
			return fmt.Errorf("catalog %q: %w", path, err)
		}
		names = append(names, name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := ui.NewConsole(cmd.OutOrStdout())
	journal := storage.NewJournal(env.store)
	d := dispatch.New(console, journal, env.catalog, dispatch.Options{
		Link: linkOptions(env.cfg),
		Transfer: transfer.Options{
			BlockSize: uint64(env.cfg.BlockSize),
			IOTimeout: env.cfg.IOTimeout(),
		},
		InitialStreams: opts.streams,
	})
	if root.quiet {
		d.Post(dispatch.Visibility{Visible: false})
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"device":  env.cfg.DeviceName,
		"session": journal.SessionID(),
		"data":    env.dataDir,
	}).Info("Session started")

	if err := start(env, d); err != nil {
		stop()
		<-done
		return err
	}

	if len(names) > 0 {
		if err := deliver(ctx, env, d, names); err != nil && !errors.Is(err, context.Canceled) {
			stop()
			<-done
			return err
		}
		if !opts.stay {
			stop()
		}
	}

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// deliver waits for a link, sends the named catalog entries, and waits until
// none of them is pending.
func deliver(ctx context.Context, env *environment, d *dispatch.Dispatcher, names []string) error {
	manifests := make([]models.Manifest, 0, len(names))
	for _, name := range names {
		manifest, err := env.catalog.Manifest(name)
		if err != nil {
			return err
		}
		manifests = append(manifests, manifest)
	}

	if err := poll(ctx, func() (bool, error) { return d.Linked(ctx) }); err != nil {
		return err
	}
	d.Post(dispatch.SendFiles{Manifests: manifests})

	return poll(ctx, func() (bool, error) {
		pending, err := d.Pending(ctx)
		return pending == 0, err
	})
}

func poll(ctx context.Context, ready func() (bool, error)) error {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()
	for {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
