package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"licensetrust/internal/license"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Issue a signed license token bound to a hardware ID",
	Example: `  # Issue a one-year standard token
  licensetool sign --private-keys 1a2b3c4d-sig-private.jwks \
    --key LIC-7Q2M-XK4P-99ZA --hwid $(licensetool hwid --id-only) --tier standard --valid-for 8760h
`,
	Args: cobra.NoArgs,
	RunE: signCmdRun,
}

type signFlags struct {
	privateKeys string
	licenseKey  string
	hwid        string
	tier        string
	validFor    time.Duration
}

var signArgs signFlags

func init() {
	signCmd.Flags().StringVar(&signArgs.privateKeys, "private-keys", "", "path to the private JWKS written by keygen")
	signCmd.Flags().StringVar(&signArgs.licenseKey, "key", "", "license key the token is issued for")
	signCmd.Flags().StringVar(&signArgs.hwid, "hwid", "", "hardware ID the token is bound to")
	signCmd.Flags().StringVar(&signArgs.tier, "tier", string(license.TierStandard), "license tier")
	signCmd.Flags().DurationVar(&signArgs.validFor, "valid-for", 0, "token lifetime, zero for no expiry")
	_ = signCmd.MarkFlagRequired("private-keys")
	_ = signCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(signCmd)
}

func signCmdRun(cmd *cobra.Command, _ []string) error {
	tier := license.Tier(signArgs.tier)
	if !tier.Valid() {
		names := make([]string, 0, len(license.Tiers()))
		for _, t := range license.Tiers() {
			names = append(names, string(t))
		}
		return fmt.Errorf("unknown tier %q, must be one of %s", signArgs.tier, strings.Join(names, ", "))
	}
	if signArgs.validFor < 0 {
		return fmt.Errorf("--valid-for cannot be negative")
	}

	private, err := license.EdKeySetFromFile(signArgs.privateKeys)
	if err != nil {
		return err
	}
	codec, err := license.NewCodecFromKeySets(nil, private)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tok := license.Token{
		Version:    license.SupportedTokenVersion,
		LicenseKey: strings.TrimSpace(signArgs.licenseKey),
		HWID:       strings.TrimSpace(signArgs.hwid),
		Tier:       tier,
		IssuedAt:   now.Unix(),
	}
	if signArgs.validFor > 0 {
		tok.ExpiresAt = now.Add(signArgs.validFor).Unix()
	}

	signed, err := codec.Sign(tok)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}
