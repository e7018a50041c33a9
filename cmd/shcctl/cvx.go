package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shc-verification-service/internal/app"
)

// cvxCmd はCVXコード管理のコマンド。
func cvxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cvx",
		Short: "Manage the CVX vaccine code table",
	}
	cmd.AddCommand(cvxImportCmd())
	cmd.AddCommand(cvxListCmd())
	return cmd
}

func cvxListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List imported CVX codes",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			codes, err := a.Vaccines.List(cmd.Context())
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd, codes)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CODE\tSTATUS\tSHORT DESCRIPTION")
			for _, vc := range codes {
				fmt.Fprintf(w, "%d\t%s\t%s\n", vc.Code, vc.VaccineStatus, vc.ShortDescription)
			}
			return w.Flush()
		}),
	}
}

func cvxImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import CVX codes from the CDC feed or a local file",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			var (
				count int
				err   error
			)
			if file != "" {
				data, readErr := os.ReadFile(file)
				if readErr != nil {
					return fmt.Errorf("reading %s: %w", file, readErr)
				}
				count, err = a.CVXImport.ImportFeed(cmd.Context(), data)
			} else {
				count, err = a.CVXImport.Import(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d CVX code(s).\n", count)
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the pipe-delimited feed from a file instead of CVX_FEED_URL")
	return cmd
}

// cacheCmd はキャッシュ管理のコマンド。
func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the expiring cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reap",
		Short: "Delete expired cache entries",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			res, err := a.Reaper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d expired entr(ies) in %s.\n", res.Evicted, res.Duration)
			return nil
		}),
	})
	return cmd
}
