package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shc-verification-service/internal/app"
)

// issuersCmd は発行者管理のコマンド。
func issuersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issuers",
		Short: "Manage trusted issuers",
	}
	cmd.AddCommand(issuersListCmd())
	cmd.AddCommand(issuersKeysCmd())
	cmd.AddCommand(issuersSyncCmd())
	cmd.AddCommand(issuersImportCmd())
	cmd.AddCommand(issuersRefreshCmd())
	cmd.AddCommand(issuersPurgeCmd())
	return cmd
}

func issuersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered issuers",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			issuers, err := a.TrustStore.ListIssuers(cmd.Context())
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd, issuers)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ISS\tNAME\tCANONICAL\tUPDATED AT\tERROR")
			for _, issuer := range issuers {
				canonical := "-"
				if issuer.IsAlias() {
					canonical = *issuer.CanonicalIss
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
					issuer.Iss, issuer.Name, canonical, issuer.UpdatedAt.Format(time.RFC3339), issuer.Error)
			}
			return w.Flush()
		}),
	}
}

func issuersKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys ISS",
		Short: "List stored signing keys of an issuer (aliases resolve to the canonical issuer)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			resolution, err := a.TrustStore.ResolveCanonical(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			keys, err := a.TrustStore.ListKeys(cmd.Context(), resolution.Issuer.ID)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd, keys)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d key(s) stored for %q\n", len(keys), resolution.Issuer.Iss)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", k.KeyID)
			}
			return nil
		}),
	}
}

func issuersSyncCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Register issuers from the VCI directory",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			result, err := a.Directory.Sync(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %d issuer(s), refreshed %d key set(s), %d failed.\n",
				result.Registered, result.Refreshed, result.Failed)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh-keys", false, "Also fetch key sets of registered issuers")
	return cmd
}

func issuersImportCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Register issuers and aliases from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			result, err := a.Directory.ImportFile(cmd.Context(), data, refresh)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %d issuer(s), refreshed %d key set(s), %d failed.\n",
				result.Registered, result.Refreshed, result.Failed)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh-keys", false, "Also fetch key sets of imported issuers")
	return cmd
}

func issuersRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh ISS",
		Short: "Fetch the key set of an issuer now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			count, err := a.Resolver.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d key(s) for %q\n", count, args[0])
			return nil
		}),
	}
}

func issuersPurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge ISS",
		Short: "Delete an issuer and its keys",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			if !yes {
				return fmt.Errorf("purge is irreversible, pass --yes to confirm")
			}
			if err := a.TrustStore.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged issuer %q\n", args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
