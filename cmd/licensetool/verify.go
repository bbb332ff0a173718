package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"licensetrust/internal/license"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [TOKEN]",
	Short: "Verify a license token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  verifyCmdRun,
}

type verifyFlags struct {
	publicKeys string
}

var verifyArgs verifyFlags

func init() {
	verifyCmd.Flags().StringVar(&verifyArgs.publicKeys, "public-keys", "", "path to the public JWKS")
	_ = verifyCmd.MarkFlagRequired("public-keys")
	rootCmd.AddCommand(verifyCmd)
}

type verifyOutput struct {
	license.Token
	Expires string `json:"expires,omitempty"`
	Expired bool   `json:"expired"`
}

func verifyCmdRun(cmd *cobra.Command, args []string) error {
	public, err := license.EdKeySetFromFile(verifyArgs.publicKeys)
	if err != nil {
		return err
	}
	codec, err := license.NewCodecFromKeySets(public, nil)
	if err != nil {
		return err
	}

	tok, err := codec.Verify(args[0])
	if err != nil {
		return err
	}

	out := verifyOutput{Token: tok, Expired: tok.ExpiredAt(time.Now())}
	if tok.ExpiresAt > 0 {
		out.Expires = tok.Expiry().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
