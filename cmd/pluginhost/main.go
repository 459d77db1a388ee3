// Package main is the entrypoint for the plugin host (binary name "pluginhost").
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/morezero/plugin-host/internal/config"
	"github.com/morezero/plugin-host/internal/host"
	"github.com/morezero/plugin-host/internal/server"
	"github.com/morezero/plugin-host/pkg/bootstrap"
	"github.com/morezero/plugin-host/pkg/client"
	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/db"
	"github.com/morezero/plugin-host/pkg/value"
)

const usage = `Usage: pluginhost [command]
       pluginhost serve                               Start the host (modules, COMMS, HTTP).
       pluginhost services                            List services of an in-process host.
       pluginhost methods <service>                   List a service's methods.
       pluginhost call <service[@version]> <method> [json]
                                                      Invoke a method on an in-process host.
       pluginhost remote services|health              Query a running host over COMMS.
       pluginhost remote methods <service>
       pluginhost remote call <service[@version]> <method> [json]
       pluginhost migrate up                          Run database migrations.
       pluginhost migrate status                      Show migration status.
       pluginhost journal [service] [limit]           Show recent registration changes.
       pluginhost journal clear                       Truncate the registration journal.
       pluginhost ensure-db [name]                    Create database if missing (default name: pluginhost_test).

Commands:
  serve      (default) Start the plugin host.
  services   Load the manifest, start its modules and print the registered services.
  methods    Print a service's methods; aliases from the manifest are accepted.
  call       Invoke a method; json defaults to null.
  remote     Same queries against the host listening on HOST_SUBJECT.
  migrate    Journal schema migrations.
  journal    Registration journal queries.
  ensure-db  Create database on same host as DATABASE_URL; then run tests with that URL.

Environment: COMMS_URL, HOST_SUBJECT, MANIFEST_FILE, DATABASE_URL, MIGRATION_PATH, HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		if err := server.Run(); err != nil {
			log.Fatalf("pluginhost: %v", err)
		}
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("pluginhost: %v", err)
	}
	if err := run(context.Background(), args, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n%s", err, usage)
			os.Exit(2)
		}
		log.Fatalf("pluginhost %s: %v", cmd, err)
	}
}

var errUsage = errors.New("invalid usage")

func usageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// run executes every command except serve and help.
func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Keep stdout for command output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	switch args[0] {
	case "services", "methods", "call":
		return runLocal(ctx, cfg, args, out)
	case "remote":
		return runRemote(ctx, cfg, args[1:], out)
	case "migrate":
		if len(args) < 2 {
			return usageErrorf("migrate requires subcommand (up, status)")
		}
		switch args[1] {
		case "up":
			return runMigrateUp(ctx, cfg)
		case "status":
			return runMigrateStatus(ctx, cfg, out)
		default:
			return usageErrorf("migrate: unknown subcommand %q (use up, status)", args[1])
		}
	case "journal":
		return runJournal(ctx, cfg, args[1:], out)
	case "ensure-db":
		dbName := "pluginhost_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		return runEnsureDB(ctx, cfg, dbName, out)
	default:
		return usageErrorf("unknown command %q", args[0])
	}
}

// parseCall reads <target> <method> [json] and checks the arguments are JSON.
func parseCall(args []string) (target, method string, params value.Encoded, err error) {
	if len(args) < 2 {
		return "", "", "", usageErrorf("call requires <service[@version]> <method> [json]")
	}
	params = "null"
	if len(args) > 2 {
		params = value.Encoded(args[2])
		if _, derr := value.Decode(params); derr != nil {
			return "", "", "", usageErrorf("arguments are not valid JSON: %v", derr)
		}
	}
	return args[0], args[1], params, nil
}

func runLocal(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	manifestCfg, err := bootstrap.LoadManifest(cfg.ManifestFile)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	h, err := host.New(host.NewParams{Manifest: bootstrap.CreateResolvedManifest(manifestCfg)})
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		slog.Warn(fmt.Sprintf("cmd/pluginhost - %v", err))
	}
	defer h.Shutdown()

	switch args[0] {
	case "services":
		return printJSON(out, h.Registry().Summaries())
	case "methods":
		if len(args) < 2 {
			return usageErrorf("methods requires <service>")
		}
		methods, err := h.Methods(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, methods)
	default:
		target, method, params, err := parseCall(args[1:])
		if err != nil {
			return err
		}
		result, err := h.Call(ctx, target, method, params)
		if err != nil {
			return err
		}
		return printJSON(out, json.RawMessage(result))
	}
}

func runRemote(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageErrorf("remote requires subcommand (services, methods, call, health)")
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	c := client.NewClient(client.NewClientParams{
		Conn:    nc,
		Subject: cfg.HostSubject,
		Timeout: cfg.RequestTimeout,
		Caller:  cfg.COMMSName + "-cli",
	})

	switch args[0] {
	case "services":
		list, err := c.Services(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, list)
	case "health":
		health, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, health)
	case "methods":
		if len(args) < 2 {
			return usageErrorf("remote methods requires <service>")
		}
		methods, err := c.Methods(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, methods)
	case "call":
		target, method, params, err := parseCall(args[1:])
		if err != nil {
			return err
		}
		result, err := c.Invoke(ctx, target, method, json.RawMessage(params))
		if err != nil {
			return err
		}
		return printJSON(out, result)
	default:
		return usageErrorf("remote: unknown subcommand %q", args[0])
	}
}

func runMigrateUp(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath, out)
}

// parseJournalArgs reads [service] [limit] or "clear".
func parseJournalArgs(args []string) (params db.RecentParams, truncate bool, err error) {
	if len(args) > 0 && args[0] == "clear" {
		return db.RecentParams{}, true, nil
	}
	if len(args) > 0 {
		params.ServiceID = args[0]
	}
	if len(args) > 1 {
		limit, err := strconv.Atoi(args[1])
		if err != nil || limit <= 0 {
			return db.RecentParams{}, false, usageErrorf("journal limit must be a positive integer, got %q", args[1])
		}
		params.Limit = limit
	}
	return params, false, nil
}

func runJournal(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	params, truncate, err := parseJournalArgs(args)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	journal := db.NewJournal(pool)
	if truncate {
		if err := journal.Clear(ctx); err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
		fmt.Fprintln(out, "Journal cleared.")
		return nil
	}
	entries, err := journal.Recent(ctx, params)
	if err != nil {
		return err
	}
	return printJSON(out, entries)
}

func runEnsureDB(ctx context.Context, cfg *config.Config, dbName string, out io.Writer) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	if err := db.EnsureDatabase(ctx, u.String()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %q is ready.\n", dbName)
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
