package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filenet/storage"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "show journaled transfers, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(root.dataDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = env.Close()
			}()

			transfers, err := env.store.ListTransfers(limit)
			if err != nil {
				return err
			}
			if len(transfers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transfers yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tDIR\tNAME\tSIZE\tBLOCKS\tSTATUS\tDETAIL")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					when(t.UpdatedAt), t.Direction, t.Name, humanize.Bytes(uint64(t.Size)),
					t.BlocksDone, t.BlockCount, t.Status, t.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of transfers")
	return cmd
}

func newPeersCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "show peers this host has linked with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(root.dataDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = env.Close()
			}()

			peers, err := env.store.ListPeers()
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No peers yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNAME\tLINKS\tLAST SEEN")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Address, p.Name, p.LinkCount, when(p.LastSeenAt))
			}
			return w.Flush()
		},
	}
}

func newEventsCommand(root *rootOptions) *cobra.Command {
	var filter storage.LinkEventFilter

	cmd := &cobra.Command{
		Use:   "events",
		Short: "show link events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(root.dataDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = env.Close()
			}()

			events, err := env.store.GetLinkEvents(filter)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No link events.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSEVERITY\tEVENT\tPEER\tDETAILS")
			for _, e := range events {
				peer := "-"
				if e.Peer != nil {
					peer = *e.Peer
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", when(e.Timestamp), e.Severity, e.EventType, peer, e.Details)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.EventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&filter.Peer, "peer", "", "only events for this peer address")
	cmd.Flags().StringVar(&filter.Severity, "severity", "", "only events of this severity")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 100, "maximum number of events")
	return cmd
}

func when(unixMilli int64) string {
	return humanize.Time(time.UnixMilli(unixMilli))
}
