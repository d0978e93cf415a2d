// Package cli implements the cxbridge command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/logging"
)

// CLI is the top-level command-line interface.
type CLI struct {
	Config    string `help:"Configuration file (default: cxbridge.yaml found from the working directory)" short:"c" type:"path"`
	LogLevel  string `help:"Log level: trace, debug, info, warn, error" name:"log-level"`
	LogFormat string `help:"Log format: text, json, auto"               name:"log-format"`

	Serve   Serve   `cmd:"" help:"Serve a Compiler Service over gRPC"`
	Call    Call    `cmd:"" help:"Resolve and call a method"`
	Version Version `cmd:"" help:"Print the version"`
}

// Env is what every command runs with.
type Env struct {
	Config *config.Config
	Log    logging.Logger
	Stdout io.Writer
}

// Run parses args and executes the selected command. exit is called by
// kong for --help and usage errors.
func Run(ctx context.Context, exit func(code int), stdout, stderr io.Writer, args ...string) error {
	var cli CLI

	parser, err := kong.New(&cli,
		kong.Name("cxbridge"),
		kong.Description("Dynamic bridge to template-parameterized native methods."),
		kong.UsageOnError(),
		kong.Exit(exit),
		kong.Writers(stdout, stderr),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}),
	)
	if err != nil {
		return err
	}

	ktx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	env := &Env{
		Config: cfg,
		Log: logging.Make(stderr,
			logging.WithLevel(logging.ParseLevel(cfg.Log.Level)),
			logging.WithFormat(logging.ParseFormat(cfg.Log.Format))),
		Stdout: stdout,
	}
	return ktx.Run(env)
}

func (c *CLI) loadConfig() (*config.Config, error) {
	path := c.Config
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if path, err = config.FindConfig(wd); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	return cfg, nil
}

// Version prints the version.
type Version struct{}

func (v *Version) Run(env *Env) error {
	_, err := fmt.Fprintf(env.Stdout, "cxbridge %s\n", config.Version)
	return err
}
