package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/license"
	"licensetrust/internal/security"
)

// executeCommand runs the CLI with args and returns the combined output.
func executeCommand(args []string) (string, error) {
	defer resetCmdArgs()

	buf := new(bytes.Buffer)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetCmdArgs restores every flag so required-flag checks see a clean state.
func resetCmdArgs() {
	var reset func(cmd *cobra.Command)
	reset = func(cmd *cobra.Command) {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		for _, sub := range cmd.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
}

func generateKeys(t *testing.T) (privatePath, publicPath string) {
	t.Helper()
	dir := t.TempDir()
	output, err := executeCommand([]string{"keygen", "licenses.example.com", "--output-dir", dir})
	require.NoError(t, err, output)

	privates, err := filepath.Glob(filepath.Join(dir, "*-sig-private.jwks"))
	require.NoError(t, err)
	require.Len(t, privates, 1)
	publics, err := filepath.Glob(filepath.Join(dir, "*-sig-public.jwks"))
	require.NoError(t, err)
	require.Len(t, publics, 1)
	return privates[0], publics[0]
}

func TestKeygenCmd(t *testing.T) {
	tests := []struct {
		name         string
		args         func(dir string) []string
		errorMessage string
	}{
		{
			name: "valid key generation",
			args: func(dir string) []string { return []string{"keygen", "some.issuer", "--output-dir", dir} },
		},
		{
			name:         "missing issuer argument",
			args:         func(dir string) []string { return []string{"keygen", "--output-dir", dir} },
			errorMessage: "accepts 1 arg(s), received 0",
		},
		{
			name:         "empty issuer argument",
			args:         func(dir string) []string { return []string{"keygen", "", "--output-dir", dir} },
			errorMessage: "issuer is required",
		},
		{
			name: "invalid output directory",
			args: func(dir string) []string {
				return []string{"keygen", "test.issuer", "--output-dir", filepath.Join(dir, "absent")}
			},
			errorMessage: "does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			output, err := executeCommand(tt.args(dir))
			if tt.errorMessage != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMessage)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, output, "private key set written to")
			assert.Contains(t, output, "public key set written to")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestKeygenCmd_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, err := executeCommand([]string{"keygen", "same.issuer", "--output-dir", dir})
	require.NoError(t, err)

	_, err = executeCommand([]string{"keygen", "same.issuer", "--output-dir", dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to overwrite")
}

func TestSignAndVerifyCmd(t *testing.T) {
	privatePath, publicPath := generateKeys(t)

	output, err := executeCommand([]string{
		"sign", "--private-keys", privatePath, "--key", "LIC-7Q2M-XK4P-99ZA",
		"--hwid", "abc123", "--tier", "premium", "--valid-for", "720h",
	})
	require.NoError(t, err, output)
	token := strings.TrimSpace(output)
	require.Contains(t, token, ".")

	output, err = executeCommand([]string{"verify", token, "--public-keys", publicPath})
	require.NoError(t, err, output)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &claims))
	assert.Equal(t, "LIC-7Q2M-XK4P-99ZA", claims["key"])
	assert.Equal(t, "abc123", claims["hwid"])
	assert.Equal(t, string(license.TierPremium), claims["tier"])
	assert.Equal(t, false, claims["expired"])
	assert.NotEmpty(t, claims["expires"])
}

func TestSignCmd_Errors(t *testing.T) {
	privatePath, _ := generateKeys(t)

	tests := []struct {
		name         string
		args         []string
		errorMessage string
	}{
		{"unknown tier", []string{"sign", "--private-keys", privatePath, "--key", "LIC-1", "--tier", "gold"}, "unknown tier"},
		{"negative lifetime", []string{"sign", "--private-keys", privatePath, "--key", "LIC-1", "--valid-for=-1h"}, "cannot be negative"},
		{"missing key flag", []string{"sign", "--private-keys", privatePath}, `required flag(s) "key" not set`},
		{"missing key file", []string{"sign", "--private-keys", filepath.Join(t.TempDir(), "none.jwks"), "--key", "LIC-1"}, "failed to read key set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMessage)
		})
	}
}

func TestVerifyCmd_RejectsForeignKey(t *testing.T) {
	privatePath, _ := generateKeys(t)
	_, otherPublic := generateKeys(t)

	output, err := executeCommand([]string{"sign", "--private-keys", privatePath, "--key", "LIC-7Q2M"})
	require.NoError(t, err)

	_, err = executeCommand([]string{"verify", strings.TrimSpace(output), "--public-keys", otherPublic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not verify")
}

func TestHwidCmd(t *testing.T) {
	snap := security.StaticCollector{MAC: "00:1a:2b:3c:4d:5e", CPU: "c0ffee00c0ffee00", Board: "4c4c4544-0042"}
	orig := collector
	collector = snap
	defer func() { collector = orig }()

	want, err := snap.Snapshot(t.Context())
	require.NoError(t, err)

	output, err := executeCommand([]string{"hwid", "--id-only"})
	require.NoError(t, err)
	assert.Equal(t, want.HWID(), strings.TrimSpace(output))

	output, err = executeCommand([]string{"hwid"})
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "00:1a:2b:3c:4d:5e", got["mac"])
	assert.Equal(t, want.HWID(), got["hwid"])
}

func TestEncryptCredentialsCmd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"type":"service_account"}`), 0600))

	t.Run("missing passphrase", func(t *testing.T) {
		t.Setenv("LTE_LEDGER_CREDENTIALS_PASSPHRASE", "")
		_, err := executeCommand([]string{"encrypt-credentials", input})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not set")
	})

	t.Run("default output", func(t *testing.T) {
		t.Setenv("LTE_LEDGER_CREDENTIALS_PASSPHRASE", "correct horse battery")
		output, err := executeCommand([]string{"encrypt-credentials", input})
		require.NoError(t, err)
		assert.Contains(t, output, input+".enc")

		plain, err := security.ReadEncryptedFile(input+".enc", []byte("correct horse battery"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"service_account"}`, string(plain))
	})

	t.Run("custom passphrase variable", func(t *testing.T) {
		t.Setenv("RELEASE_PASSPHRASE", "another secret")
		out := filepath.Join(dir, "custom.enc")
		_, err := executeCommand([]string{"encrypt-credentials", input, "-o", out, "--passphrase-env", "RELEASE_PASSPHRASE"})
		require.NoError(t, err)

		_, err = security.ReadEncryptedFile(out, []byte("wrong"))
		assert.Error(t, err)
	})
}
