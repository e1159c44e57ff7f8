package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCatalogCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "inspect and extend the file catalog",
	}
	cmd.AddCommand(newCatalogListCommand(root), newCatalogAddCommand(root))
	return cmd
}

func newCatalogListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list cataloged files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(root.dataDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = env.Close()
			}()

			entries := env.catalog.List()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "The catalog is empty.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tSOURCE")
			for _, entry := range entries {
				size := "?"
				if manifest, err := env.catalog.Manifest(entry.Name); err == nil {
					size = humanize.Bytes(uint64(manifest.Size))
				}
				source := "copied"
				if entry.IsLinked != "" {
					source = entry.IsLinked
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Name, size, source)
			}
			return w.Flush()
		},
	}
}

func newCatalogAddCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add path...",
		Short: "catalog files by linking to them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(root.dataDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = env.Close()
			}()

			for _, path := range args {
				entry, err := env.catalog.AddPath(path)
				if err != nil {
					return fmt.Errorf("add %q: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", entry.Name)
			}
			return nil
		},
	}
}
