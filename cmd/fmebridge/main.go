package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/db"
	"github.com/hpungsan/fmebridge/internal/logging"
	"github.com/hpungsan/fmebridge/internal/mcp"
	"github.com/hpungsan/fmebridge/internal/ops"
	"github.com/hpungsan/fmebridge/internal/settings"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"inspect": true, "command": true, "run": true,
	"exe": true, "workdir": true, "scan": true,
	"runs": true, "report": true, "layers": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "--verbose" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ __  __ ___ _        _    _
  | __|  \/  | __| |__ _ _(_)__| |__ _ ___
  | _|| |\/| | _|| '_ \ '_| / _  / _  / -_)
  |_| |_|  |_|___|_.__/_| |_\__,_\__, \___|
                                 |___/
  Run FME workspaces on GeoJSON layers

  Usage: fmebridge <command> [options]
         fmebridge --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(&appEnv{})
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".fmebridge")

	env, database, err := openEnv(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	for _, name := range mcp.ValidateDisabledTools(env.cfg.DisabledTools) {
		env.log.Warn().Str("tool", name).Msg("unknown tool in disabled_tools")
	}
	for _, name := range mcp.ValidateDisabledTypes(env.cfg.DisabledTypes) {
		env.log.Warn().Str("type", name).Msg("unknown type in disabled_types")
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'fmebridge --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	session, err := ops.NewSession(ops.SessionDeps{
		DB:       env.db,
		Config:   env.cfg,
		Settings: env.settings,
		Logger:   env.log,
		TempDir:  env.tempDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	err = mcp.Run(mcp.Deps{
		DB:       env.db,
		Config:   env.cfg,
		Settings: env.settings,
		Session:  session,
		Logger:   env.log,
		TempDir:  env.tempDir,
	}, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openEnv opens the database, config, settings and logger under baseDir.
// The caller closes the returned database.
func openEnv(baseDir string) (*appEnv, *sql.DB, error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db.ConfigurePool(database, cfg)

	// stdout belongs to JSON output and the MCP protocol
	log := logging.New(os.Stderr, cfg.LogLevel)

	return &appEnv{
		db:       database,
		cfg:      cfg,
		settings: settings.Open(filepath.Join(baseDir, settings.FileName), cfg.ExecutableSuffix),
		log:      log,
		tempDir:  cfg.ResolveTempDir(baseDir),
	}, database, nil
}
