package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the resolved application paths.
// This is the single source of truth for file locations.
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string

	DatabaseFile string
	SecretFile   string
	AuditFile    string
	LogFile      string

	// Config files live next to the executable unless absolute.
	CredentialsFile string
	PublicKeysFile  string
}

// executableDir returns the directory of the running binary, symlinks resolved.
func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// GetPaths resolves the default layout with the given data directory.
// An empty dataDir means "data" next to the executable.
//
//	<exe dir>/
//	  ├── credentials.json
//	  ├── licensed.yaml
//	  ├── data/
//	  │   ├── license.db
//	  │   ├── install.secret
//	  │   └── audit.jsonl
//	  └── logs/
func GetPaths(dataDir string) (*Paths, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	return cfg.ResolvePaths()
}

// ResolvePaths turns the configured relative paths into absolute ones.
func (c *Config) ResolvePaths() (*Paths, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}

	dataDir := under(exeDir, c.Paths.DataDir)
	logsDir := under(exeDir, c.Paths.LogsDir)

	p := &Paths{
		ExecutableDir:   exeDir,
		DataDir:         dataDir,
		LogsDir:         logsDir,
		DatabaseFile:    under(dataDir, c.Paths.DatabaseFile),
		SecretFile:      under(dataDir, c.Paths.SecretFile),
		CredentialsFile: under(exeDir, c.Ledger.CredentialsFile),
		PublicKeysFile:  under(exeDir, c.License.PublicKeysFile),
	}
	if c.Paths.AuditFile != "" {
		p.AuditFile = under(dataDir, c.Paths.AuditFile)
	}
	if c.Logging.FilePath != "" {
		p.LogFile = under(logsDir, c.Logging.FilePath)
	}
	return p, nil
}

// under joins a relative path onto base. Absolute and empty paths pass through.
func under(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// EnsureDirectories creates the data and logs directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetRelativePath returns a path relative to the executable directory
func (p *Paths) GetRelativePath(subpath string) string {
	return filepath.Join(p.ExecutableDir, subpath)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LogPathResolution logs the resolved layout at debug level.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
		),
		slog.Group("files",
			slog.String("database", p.DatabaseFile),
			slog.String("secret_file", p.SecretFile),
			slog.String("audit", p.AuditFile),
			slog.String("credentials_file", p.CredentialsFile),
			slog.Bool("credentials_exist", FileExists(p.CredentialsFile)),
			slog.String("public_keys", p.PublicKeysFile),
		),
	)
}
