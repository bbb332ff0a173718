package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"licensetrust/internal/security"
)

var hwidCmd = &cobra.Command{
	Use:   "hwid",
	Short: "Print this machine's hardware fingerprint",
	Args:  cobra.NoArgs,
	RunE:  hwidCmdRun,
}

type hwidFlags struct {
	idOnly bool
}

var hwidArgs hwidFlags

// collector is replaced in tests.
var collector security.Collector = security.NewFingerprintManager()

func init() {
	hwidCmd.Flags().BoolVar(&hwidArgs.idOnly, "id-only", false, "print only the hardware ID")
	rootCmd.AddCommand(hwidCmd)
}

func hwidCmdRun(cmd *cobra.Command, _ []string) error {
	snap, err := collector.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	if hwidArgs.idOnly {
		fmt.Fprintln(cmd.OutOrStdout(), snap.HWID())
		return nil
	}

	data, err := json.MarshalIndent(struct {
		security.HardwareSnapshot
		HWID string `json:"hwid"`
	}{snap, snap.HWID()}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
