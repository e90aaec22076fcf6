package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/inkbuild/internal"
	pkgconfig "github.com/starford/inkbuild/pkg/config"
)

// loadConfig reads the config file (defaults are kept when it does not
// exist) and applies command-line overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.IsSet("root") {
		cfg.Workspace.Root = cmd.String("root")
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
		if err := cfg.App.HTTP.Validate(); err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func compile(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("compile expects exactly one script path")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("emit") {
		cfg.Build.Emit = true
	}
	return internal.Compile(ctx, cmd.Args().First(),
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr))
}

func main() {
	internal.Version = version

	cmd := &cli.Command{
		Name:    "inkbuild",
		Usage:   "Incremental build server for ink narrative scripts",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Workspace root (overrides workspace.root)",
				Sources: cli.EnvVars("INKBUILD_ROOT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Watch the workspace and serve the HTTP API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "HTTP port (overrides app.http.port)",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the build tools over MCP on stdio",
				Action: serveMCP,
			},
			{
				Name:      "compile",
				Usage:     "Compile one script and print its diagnostics",
				ArgsUsage: "<script.ink>",
				Action:    compile,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "emit",
						Usage: "Write the compiled story next to the script",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, internal.ErrBuildFailed) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
