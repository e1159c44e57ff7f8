package cli

import (
	"crypto/rand"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"filenet/testfile"
)

func newTestfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testfile",
		Short: "generate and verify self-checking test files",
	}
	cmd.AddCommand(newTestfileGenCommand(), newTestfileCheckCommand())
	return cmd
}

func newTestfileGenCommand() *cobra.Command {
	var length int64

	cmd := &cobra.Command{
		Use:   "gen path",
		Short: "write a test file of the given length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := newByteBar(cmd, length, "generating")
			if err := testfile.GenerateFile(args[0], length, rand.Reader, barProgress(bar)); err != nil {
				return err
			}
			_ = bar.Finish()
			fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s (%d bytes)\n", args[0], length)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&length, "length", "l", testfile.DefaultLength, "file length in bytes")
	return cmd
}

func newTestfileCheckCommand() *cobra.Command {
	var length int64

	cmd := &cobra.Command{
		Use:   "check path",
		Short: "verify a test file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := newByteBar(cmd, -1, "checking")
			report, err := testfile.CheckFile(args[0], length, barProgress(bar))
			if err != nil {
				return err
			}
			_ = bar.Finish()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s is valid: %d bytes, %d runs\n", args[0], report.Length, report.Runs)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&length, "length", "l", 0, "expected length in bytes (0 accepts the header)")
	return cmd
}

func newByteBar(cmd *cobra.Command, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
	)
}

func barProgress(bar *progressbar.ProgressBar) testfile.ProgressFunc {
	return func(done, total int64) {
		if bar.GetMax64() != total {
			bar.ChangeMax64(total)
		}
		_ = bar.Set64(done)
	}
}
