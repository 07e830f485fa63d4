// Hermitd is the session and protocol engine behind llmsh, a shell that
// turns natural-language requests into shell commands.
//
// llmsh connects over a Unix-domain socket, opens a session, streams its
// terminal I/O into the session's context and asks for commands. hermitd
// keeps the per-session shell history, builds the model prompt from it and
// returns the generated command text. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, defaults apply.
//
// Usage:
//
//	hermitd serve              Start the daemon
//	hermitd init [dir]         Write an example hermitd.yaml
//	hermitd ping               Send a heartbeat to the running daemon
//	hermitd usage [window]     Print token usage (default window: 24h)
//	hermitd version            Print version and build information
//	hermitd -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/hermitd/internal/buildinfo"
	"github.com/nugget/hermitd/internal/config"
	"github.com/nugget/hermitd/internal/connwatch"
	"github.com/nugget/hermitd/internal/dispatch"
	"github.com/nugget/hermitd/internal/events"
	"github.com/nugget/hermitd/internal/llm"
	"github.com/nugget/hermitd/internal/metrics"
	"github.com/nugget/hermitd/internal/mqtt"
	"github.com/nugget/hermitd/internal/session"
	"github.com/nugget/hermitd/internal/transport"
	"github.com/nugget/hermitd/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the hermitd command. ctx controls the
// lifetime of the process; structured logs go to stdout. args is
// os.Args[1:], parsed by hand so that run can be called concurrently
// from tests without the flag package's global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ping":
		return runPing(ctx, stdout, configPath)
	case "usage":
		window := 24 * time.Hour
		if len(cmdArgs) > 0 {
			d, err := time.ParseDuration(cmdArgs[0])
			if err != nil || d <= 0 {
				return fmt.Errorf("usage: hermitd usage [window], e.g. 24h (got %q)", cmdArgs[0])
			}
			window = d
		}
		return runUsage(ctx, stdout, configPath, outputFmt, window)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// versionKeys orders the fields of [buildinfo.Info] for text output.
var versionKeys = []string{"version", "git_commit", "build_time", "go_version", "os", "arch"}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range versionKeys {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "hermitd - session and protocol engine for llmsh")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hermitd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the daemon")
	fmt.Fprintln(w, "  init [dir]      Write an example hermitd.yaml (default: .)")
	fmt.Fprintln(w, "  ping            Send a heartbeat to the running daemon")
	fmt.Fprintln(w, "  usage [window]  Print token usage for the last window (default: 24h)")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./hermitd.yaml, ~/.config/hermitd/config.yaml, /etc/hermitd.conf")
	return nil
}

// runServe starts the daemon and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives. The socket server, backend watcher, metrics
// endpoint and MQTT publisher run in one errgroup; the first to fail
// stops the rest.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting hermitd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured level and
	// format. Validate has already checked the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"llm", cfg.LLM,
		"socket", cfg.Listen.Socket,
		"transport", cfg.Listen.Transport,
		"max_sessions", cfg.Sessions.MaxSessions,
	)

	// --- Backend ---
	modelID, err := llm.ParseModelTag(cfg.LLM)
	if err != nil {
		logger.Warn("unsupported model tag, falling back to default",
			"llm", cfg.LLM, "default", llm.DefaultModelTag, "error", err)
		modelID, _ = llm.ParseModelTag(llm.DefaultModelTag)
	}
	client, err := llm.NewBackend(modelID, llm.BackendConfig{
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		OpenAIAPIKey:    cfg.OpenAI.APIKey,
		OllamaURL:       cfg.OllamaURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	provider := llm.ProviderName(modelID.Host)
	gen := llm.NewChatGenerator(client, provider, modelID.Model)
	logger.Info("backend configured", "provider", provider, "model", modelID.Model)

	// --- Observability ---
	m := metrics.New()
	bus := events.New()
	tokens := mqtt.NewDailyTokens(nil)

	// --- Usage accounting ---
	// Token counts per generation, kept in SQLite under data_dir.
	hooks := []llm.UsageFunc{tokens.Observe}
	if dbPath := cfg.UsageDBPath(); dbPath != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		store, err := usage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open usage database %s: %w", dbPath, err)
		}
		defer store.Close()
		hooks = append(hooks, store.Hook(logger))
		logger.Info("usage database opened", "path", dbPath)
	}
	gen.OnUsage(func(ctx context.Context, u llm.Usage) {
		for _, h := range hooks {
			h(ctx, u)
		}
	})

	// --- Sessions and dispatch ---
	sessions := session.NewManager(llm.NewSingletonProvider(gen), cfg.Sessions.MaxSessions, session.Options{
		MaxChunkLength: cfg.Sessions.MaxChunkLength,
		MaxHistory:     cfg.Sessions.MaxHistory,
		Window:         cfg.Sessions.ContextWindow,
		HistoryTurns:   cfg.Sessions.HistoryTurns,
	}, logger)
	disp := dispatch.New(sessions, dispatch.Options{
		MOTD:            cfg.MOTD,
		GenerateTimeout: cfg.GenerateTimeoutDuration(),
		Metrics:         m,
		Bus:             bus,
		Logger:          logger,
	})

	socketMode, _ := cfg.SocketFileMode()
	srv := transport.NewServer(transport.Config{
		SocketPath:     cfg.Listen.Socket,
		Framing:        transport.Framing(cfg.Listen.Transport),
		SocketMode:     socketMode,
		MaxConnections: cfg.Listen.MaxConnections,
		Logger:         logger,
	}, disp)

	// --- Backend health ---
	// Reachability is reported, never waited on: a Setup succeeds while
	// the backend is down and generation fails with the backend's error.
	watcher := connwatch.New(connwatch.Config{
		Name:    provider,
		Probe:   client.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
		OnChange: func(tr connwatch.Transition) {
			m.SetBackendUp(tr.Up)
			ev := events.Event{
				Timestamp: tr.At,
				Source:    events.SourceBackend,
				Kind:      events.KindBackendUp,
				Data:      map[string]any{"backend": tr.Name},
			}
			if !tr.Up {
				ev.Kind = events.KindBackendDown
				ev.Data["error"] = tr.Err.Error()
			}
			bus.Publish(ev)
		},
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })

	if cfg.Metrics.Enabled {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Address, logger) })
	}

	if cfg.MQTT.Configured() {
		pub := mqtt.New(cfg.MQTT, &mqttStatsAdapter{
			model:    modelID.String(),
			sessions: sessions,
			watcher:  watcher,
		}, tokens, bus, logger)
		g.Go(func() error { return pub.Start(gctx) })
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	}

	err = g.Wait()
	logger.Info("hermitd stopped")
	return err
}

// runPing sends a heartbeat to the configured socket and prints the
// reply.
func runPing(ctx context.Context, w io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	c, err := transport.Dial(ctx, cfg.Listen.Socket)
	if err != nil {
		return err
	}
	defer c.Close()

	reply, err := c.Roundtrip(nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	fmt.Fprintf(w, "%s from %s in %s\n", reply, cfg.Listen.Socket, time.Since(start).Round(time.Microsecond))
	return nil
}

// usageReport is the JSON shape of "hermitd usage".
type usageReport struct {
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
	ByUser  map[string]*usage.Summary `json:"by_user"`
}

// runUsage prints token totals for the last window from the usage store.
func runUsage(ctx context.Context, w io.Writer, configPath, outputFmt string, window time.Duration) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dbPath := cfg.UsageDBPath()
	if dbPath == "" {
		return errors.New("usage recording is off: set data_dir in the config")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("usage database %s: %w", dbPath, err)
	}

	store, err := usage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now()
	rep := usageReport{Start: end.Add(-window), End: end}
	if rep.Total, err = store.Summary(ctx, rep.Start, rep.End); err != nil {
		return err
	}
	if rep.ByModel, err = store.SummaryByModel(ctx, rep.Start, rep.End); err != nil {
		return err
	}
	if rep.ByUser, err = store.SummaryByUser(ctx, rep.Start, rep.End); err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Fprintf(w, "Usage for the last %s\n", window)
	printSummary(w, "total", rep.Total)
	printGroup(w, "By model:", rep.ByModel)
	printGroup(w, "By user:", rep.ByUser)
	return nil
}

func printSummary(w io.Writer, label string, s *usage.Summary) {
	fmt.Fprintf(w, "  %-28s %6d requests  %9d in  %9d out  %s\n",
		label, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalDuration.Round(time.Millisecond))
}

func printGroup(w io.Writer, title string, group map[string]*usage.Summary) {
	if len(group) == 0 {
		return
	}
	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, title)
	for _, k := range keys {
		printSummary(w, k, group[k])
	}
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). When no file is
// found on the search path, the defaults are used and the returned path
// is "(defaults)".
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), "(defaults)", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if abs, err := filepath.Abs(cfgPath); err == nil {
		cfgPath = abs
	}
	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges the session table, backend watcher and build
// info to the MQTT publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	model    string
	sessions *session.Manager
	watcher  *connwatch.Watcher
}

func (a *mqttStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string       { return buildinfo.Version }
func (a *mqttStatsAdapter) Model() string         { return a.model }
func (a *mqttStatsAdapter) ActiveSessions() int   { return a.sessions.Len() }
func (a *mqttStatsAdapter) SessionCapacity() int  { return a.sessions.Capacity() }
func (a *mqttStatsAdapter) BackendReady() bool    { return a.watcher.IsReady() }
