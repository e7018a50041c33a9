// Package main はCLIツールのエントリポイント。
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shc-verification-service/config"
	"shc-verification-service/internal/app"
	"shc-verification-service/internal/infra"
)

var output string

func main() {
	rootCmd := &cobra.Command{
		Use:           "shcctl",
		Short:         "SMART Health Card verification service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")

	// サブコマンド登録
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(issuersCmd())
	rootCmd.AddCommand(cvxCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shcctl version %s\n", app.Version)
		},
	}
}

// loadApp は環境変数からサービス群を組み立てる。
// ログは標準エラーに出し、標準出力は結果表示に使う。
func loadApp() (*app.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	infra.SetupLogger(cfg, os.Stderr)

	return app.New(cfg, nil)
}

// withApp はサービス群を組み立てて fn を実行し、終了時に接続を閉じる。
func withApp(fn func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
