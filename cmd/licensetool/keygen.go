package main

import (
	"fmt"
	"hash/adler32"
	"path/filepath"

	"github.com/spf13/cobra"

	"licensetrust/internal/license"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [ISSUER]",
	Short: "Generate an Ed25519 key pair in JWKS format for signing license tokens",
	Example: `  # Generate key pair in the current directory
  licensetool keygen licenses.example.com
`,
	Args: cobra.ExactArgs(1),
	RunE: keygenCmdRun,
}

type keygenFlags struct {
	outputDir string
}

var keygenArgs keygenFlags

func init() {
	keygenCmd.Flags().StringVarP(&keygenArgs.outputDir, "output-dir", "o", ".",
		"path to output directory (defaults to current directory)")
	rootCmd.AddCommand(keygenCmd)
}

func keygenCmdRun(cmd *cobra.Command, args []string) error {
	issuer := args[0]
	if issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if err := isDir(keygenArgs.outputDir); err != nil {
		return err
	}

	issuerID := fmt.Sprintf("%08x", adler32.Checksum([]byte(issuer)))
	privatePath := filepath.Join(keygenArgs.outputDir, issuerID+"-sig-private.jwks")
	publicPath := filepath.Join(keygenArgs.outputDir, issuerID+"-sig-public.jwks")

	public, private, err := license.NewKeySetPair(issuer)
	if err != nil {
		return err
	}
	if err := private.WriteFile(privatePath); err != nil {
		return fmt.Errorf("failed to write private key set: %w", err)
	}
	if err := public.WriteFile(publicPath); err != nil {
		return fmt.Errorf("failed to write public key set: %w", err)
	}

	cmd.Printf("✔ private key set written to: %s\n", privatePath)
	cmd.Printf("✔ public key set written to: %s\n", publicPath)
	return nil
}
