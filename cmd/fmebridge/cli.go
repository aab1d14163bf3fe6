package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/fmebridge/internal/command"
	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/logging"
	"github.com/hpungsan/fmebridge/internal/ops"
	"github.com/hpungsan/fmebridge/internal/runner"
	"github.com/hpungsan/fmebridge/internal/settings"
	"github.com/hpungsan/fmebridge/internal/web"
)

// appEnv carries what every command reads from.
type appEnv struct {
	db       *sql.DB
	cfg      *config.Config
	settings *settings.Settings
	log      *logging.Logger
	tempDir  string
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "fmebridge",
		Usage:   "Run FME workspaces on GeoJSON layers",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log at debug level"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				env.log = logging.New(os.Stderr, "debug")
			}
			return nil
		},
		Commands: []*cli.Command{
			inspectCmd(env),
			commandCmd(env),
			runCmd(env),
			exeCmd(env),
			workdirCmd(env),
			scanCmd(env),
			runsCmd(env),
			reportCmd(env),
			layersCmd(env),
			serveCmd(env),
		},
		// Parameter values may contain commas
		DisableSliceFlagSeparator: true,
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// inspectCmd creates the inspect command.
func inspectCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the datasets and published parameters of a workspace",
		ArgsUsage: "<workspace.fmw>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("workspace path is required"))
			}

			output, err := ops.Inspect(env.cfg, ops.InspectInput{Path: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// commandCmd creates the command command.
func commandCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "command",
		Usage:     "Build the command line for a workspace without running it",
		ArgsUsage: "<workspace.fmw>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exe", Aliases: []string{"e"}, Usage: "FME executable (default: the saved one)"},
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Parameter override name=value (repeatable)"},
			&cli.StringFlag{Name: "source", Usage: "Source dataset path (default: generated)"},
			&cli.StringFlag{Name: "dest", Usage: "Destination dataset path (default: generated)"},
			&cli.BoolFlag{Name: "line", Usage: "Print only the command line"},
		},
		Action: func(c *cli.Context) error {
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return outputError(err)
			}

			output, err := ops.BuildCommand(env.cfg, env.settings, ops.BuildCommandInput{
				Workspace:  c.Args().First(),
				Executable: c.String("exe"),
				Params:     params,
				SourcePath: c.String("source"),
				DestPath:   c.String("dest"),
				TempDir:    env.tempDir,
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("line") {
				if !output.Ready {
					return outputError(errors.NewNotReady(output.Missing...))
				}
				fmt.Fprintln(os.Stdout, output.Command)
				return nil
			}
			return outputJSON(output)
		},
	}
}

// runCmd creates the run command.
func runCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a workspace and store its result layer",
		ArgsUsage: "<workspace.fmw>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exe", Aliases: []string{"e"}, Usage: "FME executable for this run (not saved)"},
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Parameter override name=value (repeatable)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "GeoJSON file written to the source dataset"},
			&cli.StringFlag{Name: "layer", Usage: "Catalog layer ID written to the source dataset"},
			&cli.BoolFlag{Name: "scratch", Usage: "Store the result as an in-memory copy"},
			&cli.BoolFlag{Name: "no-check", Usage: "Skip the required parameter warning"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide the progress spinner"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("workspace path is required"))
			}
			if c.String("input") == "" && c.String("layer") == "" {
				return outputError(errors.NewInvalidRequest("an input layer is required: use --input or --layer"))
			}
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			layer, err := inputLayer(ctx, env.db, c.String("input"), c.String("layer"))
			if err != nil {
				return outputError(err)
			}

			cfg := env.cfg
			if c.Bool("no-check") {
				unchecked := *env.cfg
				off := false
				unchecked.CheckCompatibility = &off
				cfg = &unchecked
			}

			session, err := ops.NewSession(ops.SessionDeps{
				DB:       env.db,
				Config:   cfg,
				Settings: env.settings,
				Logger:   env.log,
				TempDir:  env.tempDir,
			})
			if err != nil {
				return outputError(err)
			}
			defer session.Close()

			input := ops.RunInput{
				Workspace:  c.Args().First(),
				Executable: c.String("exe"),
				Params:     params,
				Layer:      layer,
			}
			if c.IsSet("scratch") {
				scratch := c.Bool("scratch")
				input.Scratch = &scratch
			}

			bar := newSpinner(c.Bool("quiet"))
			input.OnTick = func(lines []string) {
				bar.Describe(spinnerText(lines[len(lines)-1]))
				_ = bar.Add(len(lines))
			}

			output, err := session.Run(ctx, input)
			_ = bar.Finish()
			if output != nil {
				if jsonErr := outputJSON(output); jsonErr != nil {
					return jsonErr
				}
			}
			if err != nil {
				return outputError(err)
			}

			if output.Run.State != string(runner.StateSucceeded) {
				exitCode := -1
				if output.Run.ExitCode != nil {
					exitCode = *output.Run.ExitCode
				}
				return outputError(errors.NewRunFailed(output.Run.ID, output.Run.Status, exitCode))
			}
			return nil
		},
	}
}

// exeCmd creates the exe command group.
func exeCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "exe",
		Usage: "Show or save the FME executable",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the saved executable",
				Action: func(c *cli.Context) error {
					output, err := ops.GetExecutable(env.settings)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Validate and save the executable",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("executable path is required"))
					}
					output, err := ops.SetExecutable(env.settings, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// workdirCmd creates the workdir command group.
func workdirCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "workdir",
		Usage: "Show or save the working directory",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the saved working directory",
				Action: func(c *cli.Context) error {
					output, err := ops.GetWorkingDirectory(env.settings)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Save the working directory",
				ArgsUsage: "<dir>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("directory is required"))
					}
					output, err := ops.SetWorkingDirectory(env.settings, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// scanCmd creates the scan command.
func scanCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Count the workspaces in a folder (default: the working directory)",
		ArgsUsage: "[dir]",
		Action: func(c *cli.Context) error {
			output, err := ops.Scan(env.settings, ops.ScanInput{Dir: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// runsCmd creates the runs command group.
func runsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Browse and manage run history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Filter by workspace file"},
					&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Filter by state: running|succeeded|failed|cancelled"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted runs"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListRuns(c.Context, env.db, ops.ListRunsInput{
						Workspace:      c.String("workspace"),
						State:          c.String("state"),
						Limit:          c.Int("limit"),
						Offset:         c.Int("offset"),
						IncludeDeleted: c.Bool("include-deleted"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one run with its output",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted runs"},
					&cli.BoolFlag{Name: "no-output", Usage: "Exclude the captured output"},
				},
				Action: func(c *cli.Context) error {
					input := ops.FetchRunInput{
						ID:             c.Args().First(),
						IncludeDeleted: c.Bool("include-deleted"),
					}
					if c.Bool("no-output") {
						includeOutput := false
						input.IncludeOutput = &includeOutput
					}
					output, err := ops.FetchRun(c.Context, env.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "latest",
				Usage: "Show the most recent run",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Filter by workspace file"},
					&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Filter by state"},
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted runs"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.LatestRun(c.Context, env.db, ops.LatestInput{
						Workspace:      c.String("workspace"),
						State:          c.String("state"),
						IncludeDeleted: c.Bool("include-deleted"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Soft-delete a run",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteRun(c.Context, env.db, ops.DeleteInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "purge",
				Usage: "Permanently delete soft-deleted runs and their layers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Filter by workspace file"},
					&cli.StringFlag{Name: "older-than", Usage: "Only purge if deleted more than N days ago (e.g., 7d)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.PurgeInput{}
					if workspace := c.String("workspace"); workspace != "" {
						input.Workspace = &workspace
					}
					if olderThan := c.String("older-than"); olderThan != "" {
						days, err := parseDuration(olderThan)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						input.OlderThanDays = &days
					}

					output, err := ops.PurgeRuns(c.Context, env.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "export",
				Usage: "Export run history to a JSONL file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.fmebridge/exports/<workspace>-<timestamp>.jsonl)"},
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Filter by workspace file"},
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted runs"},
				},
				Action: func(c *cli.Context) error {
					input := ops.ExportInput{
						Path:           c.String("path"),
						IncludeDeleted: c.Bool("include-deleted"),
					}
					if workspace := c.String("workspace"); workspace != "" {
						input.Workspace = &workspace
					}

					output, err := ops.ExportRuns(c.Context, env.db, env.cfg, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// reportCmd creates the report command.
func reportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Print a Markdown report of a run",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted runs"},
			&cli.BoolFlag{Name: "json", Usage: "Print the report wrapped in JSON"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ReportRun(c.Context, env.db, ops.ReportInput{
				ID:             c.Args().First(),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(output)
			}
			fmt.Fprint(os.Stdout, output.Markdown)
			return nil
		},
	}
}

// layersCmd creates the layers command group.
func layersCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "layers",
		Usage: "Browse the result layer catalog",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List layers, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListLayers(c.Context, env.db, ops.ListLayersInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one layer",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "geojson", Usage: "Include the features"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.FetchLayer(c.Context, env.db, ops.FetchLayerInput{
						ID:             c.Args().First(),
						IncludeGeoJSON: c.Bool("geojson"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "export",
				Usage:     "Write a layer to a GeoJSON file",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Destination .geojson path"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ExportLayer(c.Context, env.db, env.cfg, ops.ExportLayerInput{
						ID:   c.Args().First(),
						Path: c.String("path"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the run history web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(web.Deps{DB: env.db, Config: env.cfg, Logger: env.log}, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, env.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var bErr *errors.BridgeError
	if stderrors.As(err, &bErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", bErr.Code, bErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseParams converts repeated name=value flags.
func parseParams(values []string) ([]command.Param, error) {
	params := make([]command.Param, 0, len(values))
	for _, v := range values {
		p, err := ops.ParseParam(v)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// inputLayer loads the features for the source dataset from a file or a
// catalog layer. Neither given means the source file is used as it is.
func inputLayer(ctx context.Context, database *sql.DB, path, layerID string) (*geojson.FeatureCollection, error) {
	switch {
	case path != "" && layerID != "":
		return nil, errors.NewInvalidRequest("--input and --layer are mutually exclusive")
	case path != "":
		return dataset.Read(path)
	case layerID != "":
		fc, err := ops.LayerFeatures(ctx, database, layerID)
		if err != nil {
			return nil, errors.Wrap(err)
		}
		return fc, nil
	}
	return nil, nil
}

// newSpinner returns an indeterminate progress bar on stderr that counts
// output lines.
func newSpinner(quiet bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("running"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(!quiet),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetItsString("lines"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// spinnerText shortens an output line for the spinner description.
func spinnerText(line string) string {
	const maxLen = 60
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return string(runes)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
