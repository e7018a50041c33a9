package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shc-verification-service/internal/app"
	"shc-verification-service/internal/domain"
)

// verifyCmd はヘルスカードの検証コマンド。
func verifyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify [shc:/... | compact JWS]",
		Short: "Verify a SMART Health Card",
		Long:  "Verify a SMART Health Card given as a QR payload (shc:/...) or compact JWS, from an argument or --file (- for stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			input, err := readCredential(args, file)
			if err != nil {
				return err
			}

			var result *domain.VerifiedCredential
			if strings.HasPrefix(input, "shc:/") {
				result, err = a.Verification.VerifyQR(cmd.Context(), input)
			} else {
				result, err = a.Verification.Verify(cmd.Context(), input)
			}
			if err != nil {
				var verr *domain.VerificationError
				if errors.As(err, &verr) {
					return fmt.Errorf("rejected: %s at %s (retryable: %v): %w", verr.Kind, verr.Stage, verr.Retryable(), verr.Err)
				}
				return err
			}

			if output == "json" {
				return printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Verified credential from %q", result.Resolution.RequestedIss)
			if result.Resolution.Kind == domain.ResolutionAliased {
				fmt.Fprintf(out, " (alias of %q)", result.Resolution.Issuer.Iss)
			}
			fmt.Fprintln(out)
			if result.Degraded {
				fmt.Fprintln(out, "WARNING: verified with stored keys, issuer was unreachable")
			}
			if p := result.Payload.Patient; p != nil {
				fmt.Fprintf(out, "Patient: %s %s (born %s)\n", strings.Join(p.GivenNames, " "), p.FamilyName, p.BirthDate)
			}
			for _, imm := range result.Payload.Immunizations {
				fmt.Fprintf(out, "  %s  CVX %s  %s\n", imm.OccurrenceDate, imm.Code, imm.Status)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "WARNING: %s %s\n", w.Kind, w.Code)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the credential from a file (- for stdin)")
	return cmd
}

func readCredential(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("pass the credential as an argument or --file, not both")
	case len(args) == 1:
		return strings.TrimSpace(args[0]), nil
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return "", fmt.Errorf("a credential argument or --file is required")
	}
}
