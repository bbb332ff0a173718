//go:build ignore

// build.go - License Trust Engine build system
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, licensed, licensetool, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

var (
	distDir = "dist"

	// key = directory under cmd/, value = output name without extension
	executables = map[string]string{
		"licensed":    "licensed",
		"licensetool": "licensetool",
	}

	releasePlatforms = []struct{ goos, goarch string }{
		{"windows", "amd64"},
		{"linux", "amd64"},
		{"darwin", "arm64"},
	}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	fmt.Println(colorCyan + "=== License Trust Engine - Build System ===" + colorReset)
	startTime := time.Now()

	var err error
	switch *target {
	case "all":
		for name := range executables {
			if err = buildExecutable(name, runtime.GOOS, runtime.GOARCH, *verbose); err != nil {
				break
			}
		}
	case "licensed", "licensetool":
		err = buildExecutable(*target, runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		err = run(*verbose, "go", "test", "-race", "-count=1", "./...")
	case "clean":
		printInfo("Removing " + distDir)
		err = os.RemoveAll(distDir)
	case "release":
		err = buildRelease(*verbose)
	default:
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

// buildExecutable compiles cmd/<name> into dist/<goos>-<goarch>/.
func buildExecutable(name, goos, goarch string, verbose bool) error {
	out := executables[name]
	if goos == "windows" {
		out += ".exe"
	}
	outDir := filepath.Join(distDir, goos+"-"+goarch)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	printInfo(fmt.Sprintf("Building %s for %s/%s", name, goos, goarch))
	cmd := exec.Command("go", "build", "-trimpath", "-ldflags", "-s -w",
		"-o", filepath.Join(outDir, out), "./cmd/"+name)
	// the sqlite driver needs cgo
	cmd.Env = append(os.Environ(), "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=1")
	return runCmd(cmd, verbose)
}

func buildRelease(verbose bool) error {
	if err := run(verbose, "go", "test", "-count=1", "./..."); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	for _, p := range releasePlatforms {
		for name := range executables {
			if err := buildExecutable(name, p.goos, p.goarch, verbose); err != nil {
				return fmt.Errorf("%s %s/%s: %w", name, p.goos, p.goarch, err)
			}
		}
	}
	return nil
}

func run(verbose bool, name string, args ...string) error {
	return runCmd(exec.Command(name, args...), verbose)
}

func runCmd(cmd *exec.Cmd, verbose bool) error {
	if verbose {
		fmt.Println("  $", cmd.String())
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all          Build licensed and licensetool for this platform (default)")
	fmt.Println("  licensed     Build the license daemon")
	fmt.Println("  licensetool  Build the issuer and support CLI")
	fmt.Println("  test         Run all tests with the race detector")
	fmt.Println("  clean        Remove the dist directory")
	fmt.Println("  release      Test, then cross-compile every executable")
}
