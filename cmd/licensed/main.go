package main

import (
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"licensetrust/internal/app"
	"licensetrust/internal/config"
)

func main() {
	var (
		configFile string
		dotEnv     string
		version    bool
	)
	flag.StringVarP(&configFile, "config", "c", "", "Path to licensed.yaml (searched next to the binary when empty).")
	flag.StringVar(&dotEnv, "env-file", ".env", "Dotenv file loaded before LTE_* variables are read.")
	flag.BoolVar(&version, "version", false, "Print the version and exit.")
	flag.Parse()

	if version {
		os.Stdout.WriteString(config.AppVersion + "\n")
		return
	}

	application, err := app.NewApplication(app.Options{ConfigFile: configFile, DotEnv: dotEnv})
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
