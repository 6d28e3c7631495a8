package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/danialdehvan/ReachCheck/pkg/config"
	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

var Version = "dev"

// buildLogger is replaced in tests to capture log output
var buildLogger = newLogger

// Process exit codes
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

type CLI struct {
	Config  string           `help:"Path to the configuration file" type:"path" env:"REACHCHECK_CONFIG"`
	Debug   bool             `help:"Enable debug logging" short:"d" env:"REACHCHECK_DEBUG"`
	Version kong.VersionFlag `help:"Show version"`

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the diagnostic server (default)"`
	Diagnose DiagnoseCmd `cmd:"" help:"Print a network report and exit"`
	Firewall FirewallCmd `cmd:"" help:"Manage the inbound firewall rule"`
	Classify ClassifyCmd `cmd:"" help:"Print the connection type of each address"`
}

// App is bound into every command's Run method
type App struct {
	Log        *zap.SugaredLogger
	ConfigPath string
	Runner     platform.Runner
}

// exitError carries the process exit code for a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: exitUsage, err: err} }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalidPort) || errors.Is(err, config.ErrInvalidRule) {
		return exitUsage
	}
	return exitFatal
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Variables from .env only fill in what the environment does not set
	envErr := godotenv.Load()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("reachcheck"),
		kong.Description("Find out why a phone cannot reach a server on this machine"),
		kong.Vars{"version": Version},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reachcheck: %v\n", err)
		return exitFatal
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) && parseErr.Context != nil {
			_ = parseErr.Context.PrintUsage(true)
		}
		fmt.Fprintf(os.Stderr, "reachcheck: %v\n", err)
		return exitUsage
	}

	logger, err := buildLogger(cli.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reachcheck: failed to create logger: %v\n", err)
		return exitFatal
	}
	defer logger.Sync()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warnw("Could not read .env", "error", envErr)
	}

	app := &App{
		Log:        logger,
		ConfigPath: cli.Config,
		Runner:     platform.NewExecRunner(platform.DefaultTimeout),
	}
	if app.ConfigPath == "" {
		app.ConfigPath = config.DefaultPath()
	}

	if err := kctx.Run(app); err != nil {
		code := exitCode(err)
		logger.Errorw("Command failed", "command", kctx.Command(), "error", err, "exit_code", code)
		return code
	}
	return exitOK
}

// loadConfig loads or creates the configuration file
func (a *App) loadConfig() (*config.Config, error) {
	cfg, created, err := config.LoadOrCreate(a.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if created {
		a.Log.Infow("Created default configuration", "path", a.ConfigPath)
	} else {
		a.Log.Debugw("Loaded configuration", "path", a.ConfigPath)
	}
	return cfg, nil
}
