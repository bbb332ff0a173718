package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"licensetrust/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "licensetool",
	Version:       config.AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Issuer and support tooling for the license trust engine",
	Long: `licensetool generates signing keys, issues and inspects license tokens,
prints this machine's hardware fingerprint and encrypts ledger credentials.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("✗", err)
		os.Exit(1)
	}
}

// isDir returns an error unless path is an existing directory.
func isDir(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("directory %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to check path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", path)
	}
	return nil
}
