package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"filenet/discovery"
)

func newInterfacesCommand() *cobra.Command {
	var loopback bool

	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "list local IPv4 addresses a listener can bind to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addresses, err := discovery.LocalIPv4(discovery.Config{IncludeLoopback: loopback})
			if err != nil {
				return err
			}
			if len(addresses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No IPv4 interfaces are up.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INTERFACE\tADDRESS")
			for _, address := range addresses {
				fmt.Fprintf(w, "%s\t%s\n", address.Interface, address)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&loopback, "loopback", false, "include loopback interfaces")
	return cmd
}
