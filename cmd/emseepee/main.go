package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sthaha/emseepee/internal/config"
	"github.com/sthaha/emseepee/internal/log"
	"github.com/sthaha/emseepee/internal/service"
	"github.com/sthaha/emseepee/internal/token"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `Usage: emseepee <command> [args]

Account maintenance commands:
  accounts                    list discovered accounts
  add <id>                    register a new account directory
  rename <old> <new>          rename an account
  switch <id>                 make an account current
  refresh <id|all>            force a credential refresh
  cache-status <id>           show an account's metadata cache state
  cache-invalidate <id|all>   clear metadata caches
`

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if showVersion {
		fmt.Printf("emseepee %s\n", Version)
		return
	}

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting emseepee", "version", Version)

	refresher := token.NewHTTPRefresher(cfg.Auth.TokenURL, cfg.Auth.ClientID, cfg.Auth.ClientSecret, logger)

	// Maintenance commands work on local state only; no remote mail client
	// is wired here.
	registry, err := service.NewRegistry(service.RegistryOptions{
		Root:         cfg.Accounts.Root,
		Current:      cfg.Accounts.Current,
		ExpiryMargin: cfg.Auth.ExpiryMargin,
		ChunkSize:    cfg.Fetch.ChunkSize,
	}, nil, refresher, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	if len(args) == 0 {
		return runAccounts(registry)
	}

	switch args[0] {
	case "accounts":
		return runAccounts(registry)

	case "add":
		if len(args) != 2 {
			return fmt.Errorf("usage: emseepee add <id>")
		}
		return registry.Add(args[1])

	case "rename":
		if len(args) != 3 {
			return fmt.Errorf("usage: emseepee rename <old> <new>")
		}
		return registry.Rename(args[1], args[2])

	case "switch":
		if len(args) != 2 {
			return fmt.Errorf("usage: emseepee switch <id>")
		}
		if err := registry.Switch(args[1]); err != nil {
			return err
		}
		cfg.Accounts.Current = args[1]
		return config.SaveConfig(cfg)

	case "refresh":
		if len(args) != 2 {
			return fmt.Errorf("usage: emseepee refresh <id|all>")
		}
		return runRefresh(registry, args[1])

	case "cache-status":
		if len(args) != 2 {
			return fmt.Errorf("usage: emseepee cache-status <id>")
		}
		st, err := registry.CacheStatus(args[1])
		if err != nil {
			return err
		}
		return printJSON(st)

	case "cache-invalidate":
		if len(args) != 2 {
			return fmt.Errorf("usage: emseepee cache-invalidate <id|all>")
		}
		if args[1] == "all" {
			return registry.InvalidateAllCaches()
		}
		return registry.InvalidateCache(args[1])

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// refreshOutcome is the per-account result of a forced token refresh.
type refreshOutcome struct {
	Account string `json:"account"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

func runRefresh(registry *service.Registry, target string) error {
	ids := []string{target}
	if target == "all" {
		var err error
		ids, err = registry.IDs()
		if err != nil {
			return err
		}
	}

	outcomes := make([]refreshOutcome, 0, len(ids))
	for _, id := range ids {
		out := refreshOutcome{Account: id}
		sess, err := registry.GetOrCreate(id)
		if err != nil {
			out.Error = err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		state, err := sess.RefreshToken(context.Background())
		out.State = state.String()
		if err != nil {
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return printJSON(outcomes)
}

func runAccounts(registry *service.Registry) error {
	summaries, err := registry.Discover()
	if err != nil {
		return err
	}
	return printJSON(summaries)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
