package cli

import (
	"os"

	"github.com/mixx99/file-transfer/pkg/receipt"
	"github.com/spf13/cobra"
)

func ReceiptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Inspect transfer receipts written by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(receiptShowCommand())
	return cmd
}

func receiptShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <receipt.toml>",
		Short: "Print a receipt as yaml, json or toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := receipt.ParseFormat(format)
			if err != nil {
				return err
			}
			r, err := receipt.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if out == nil {
				out = os.Stdout
			}
			return receipt.Render(out, r, f)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, json or toml")
	return cmd
}
