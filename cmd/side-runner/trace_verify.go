package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ipublishingjp/selenium-ide/pkg/config"
	sidetrace "github.com/ipublishingjp/selenium-ide/pkg/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	result, err := sidetrace.VerifyFile(args[0], key)
	if err != nil {
		return err
	}
	return printVerify(cmd.OutOrStdout(), result)
}

func printVerify(out io.Writer, result *sidetrace.VerifyResult) error {
	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)

	if result.ChainHash == "" {
		return nil
	}
	keyLabel := result.SigningKeyID
	switch {
	case result.SignatureOK:
		if keyLabel == "" {
			keyLabel = "(default)"
		}
		fmt.Fprintf(out, "✓ Signature valid: signed by key %q\n", keyLabel)
	case result.SignatureNoKey:
		if keyLabel == "" {
			keyLabel = "unknown"
		}
		fmt.Fprintf(out, "⚠ Signature present (key %q) but no SIDE_OUTPUT_SIGNING_KEY set to verify\n", keyLabel)
	case result.SigningKeyID != "":
		fmt.Fprintf(out, "✗ Signature invalid\n")
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
