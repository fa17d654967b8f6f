package coordcli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/agentfs/coord/internal/config"
	"github.com/agentfs/coord/internal/engine"
)

// globalOptions carries the flags every subcommand can see, resolved once
// in Run before dispatch.
type globalOptions struct {
	workDir    string
	configPath string
	env        []string
}

func buildEngine(g globalOptions) (*engine.Engine, error) {
	settings, _, err := config.Load(g.workDir, g.configPath, g.env)
	if err != nil {
		return nil, err
	}
	return engine.New(settings, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// StatusCmd inspects the persisted coordination state without connecting
// to a running server: it loads configuration, starts a fresh engine
// (which restores the last persisted snapshot when persistence is enabled),
// and reports that engine's [engine.Engine.Status]. Lock holders and queue
// depths are those of the fresh engine, so they are always empty.
func StatusCmd(g globalOptions) *Command {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "status [path]",
		Short: "Show coordination status (global, or for a specific path)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			e, err := buildEngine(g)
			if err != nil {
				return err
			}
			if err := e.Start(ctx); err != nil {
				return err
			}

			path := ""
			if len(args) > 0 {
				path = args[0]
			}

			global, perPath, cerr := e.Status(path)
			if cerr != nil {
				return cerr
			}

			var data []byte
			if path == "" {
				data, err = json.MarshalIndent(global, "", "  ")
			} else {
				data, err = json.MarshalIndent(perPath, "", "  ")
			}
			if err != nil {
				return err
			}

			o.Println(string(data))
			return nil
		},
	}
}

// HealthCmd validates that configuration resolves and the engine can be
// constructed, without starting background workers — a preflight check
// an operator can run before launching coordserver.
func HealthCmd(g globalOptions) *Command {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "health",
		Short: "Validate configuration and report readiness",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			e, err := buildEngine(g)
			if err != nil {
				return err
			}

			h := e.Health()
			data, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return err
			}

			o.Println(string(data))
			return nil
		},
	}
}
