// Command hearth runs the voice assistant control plane.
//
// Usage:
//
//	hearth serve --config hearth.yaml
//	hearth validate hearth.yaml
//	hearth info --config hearth.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hearthd/hearth"
	"github.com/hearthd/hearth/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the control plane server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`
	Info     InfoCmd     `cmd:"" help:"Show the effective configuration."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Defaults to info."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json). Defaults to simple."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(hearth.GetVersion().String())
	return nil
}

// printBanner prints a colored ASCII banner using hearth-amber (#f59e0b)
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	amberColor := "\033[38;2;245;158;11m"
	resetColor := "\033[0m"

	banner := `
██╗  ██╗███████╗ █████╗ ██████╗ ████████╗██╗  ██╗
██║  ██║██╔═════██╔══██╗██╔══██╗╚══██╔═══██║  ██║
███████║█████╗  ███████║██████╔╝   ██║   ███████║
██╔══██║██╔══╝  ██╔══██║██╔══██╗   ██║   ██╔══██║
██║  ██║███████╗██║  ██║██║  ██║   ██║   ██║  ██║
╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝
`
	fmt.Printf("%s%s%s\n", amberColor, banner, resetColor)
}

// shouldSkipBanner checks if the invoked command is informational and
// should not print the banner.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}
	for _, arg := range args {
		switch arg {
		case "validate", "schema", "info", "version":
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("hearth"),
		kong.Description("Hearth - voice assistant control plane"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
