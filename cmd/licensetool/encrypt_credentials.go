package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"licensetrust/internal/security"
)

var encryptCredentialsCmd = &cobra.Command{
	Use:   "encrypt-credentials [FILE]",
	Short: "Encrypt a ledger service account file for distribution",
	Example: `  # Encrypt with the passphrase the daemon will read from LTE_LEDGER_CREDENTIALS_PASSPHRASE
  export LTE_LEDGER_CREDENTIALS_PASSPHRASE=...
  licensetool encrypt-credentials credentials.json -o credentials.enc
`,
	Args: cobra.ExactArgs(1),
	RunE: encryptCredentialsCmdRun,
}

type encryptCredentialsFlags struct {
	output        string
	passphraseEnv string
}

var encryptCredentialsArgs = encryptCredentialsFlags{
	passphraseEnv: "LTE_LEDGER_CREDENTIALS_PASSPHRASE",
}

func init() {
	encryptCredentialsCmd.Flags().StringVarP(&encryptCredentialsArgs.output, "output", "o", "",
		"path of the encrypted file (defaults to FILE.enc)")
	encryptCredentialsCmd.Flags().StringVar(&encryptCredentialsArgs.passphraseEnv, "passphrase-env",
		encryptCredentialsArgs.passphraseEnv, "environment variable holding the passphrase")
	rootCmd.AddCommand(encryptCredentialsCmd)
}

func encryptCredentialsCmdRun(cmd *cobra.Command, args []string) error {
	passphrase := os.Getenv(encryptCredentialsArgs.passphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("environment variable %s is not set", encryptCredentialsArgs.passphraseEnv)
	}

	plaintext, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	output := encryptCredentialsArgs.output
	if output == "" {
		output = args[0] + ".enc"
	}
	if err := security.WriteEncryptedFile(output, plaintext, []byte(passphrase), security.DefaultEncryptionConfig()); err != nil {
		return err
	}

	cmd.Printf("✔ encrypted credentials written to: %s\n", output)
	return nil
}
