package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
	"relay-warden/list"
	"relay-warden/metrics"
	"relay-warden/policy"
	"relay-warden/store"
	"relay-warden/strfry"
)

var version = "dev"

// PolicyInput is one strfry policy request line.
type PolicyInput struct {
	Type       string      `json:"type,omitempty"`
	Event      nostr.Event `json:"event"`
	SourceType string      `json:"sourceType,omitempty"`
	SourceInfo string      `json:"sourceInfo,omitempty"`
	IP         string      `json:"ip,omitempty"`
}

var (
	currentPipeline *policy.Pipeline
	writesOnly      bool
	pipelineMutex   sync.RWMutex
)

// buildPipeline assembles the decision chain in precedence order: deny list,
// allow list, flood guard, rate limiter, content filter.
func buildPipeline(cfg *config.Config, lists *list.Cache, collector *metrics.Collector) *policy.Pipeline {
	stages := []policy.Filter{
		policy.NewDenyListFilter(lists, &cfg.Lists.Deny),
		policy.NewAllowListFilter(lists, &cfg.Lists.Allow),
		policy.NewFloodGuardFilter(&cfg.Flood),
		policy.NewRateLimiterFilter(&cfg.RateLimit),
		policy.NewContentFilter(lists, &cfg.Content),
	}

	var mc policy.MetricsCollector
	if collector != nil {
		mc = collector
	}
	return policy.NewPipeline(cfg, stages, mc)
}

// buildRefresher wires each configured list source into the scheduler.
func buildRefresher(cfg *config.Config, lists *list.Cache, db store.Store, collector *metrics.Collector) (*list.Refresher, error) {
	var purger list.Purger
	if cfg.Strfry.PurgeOnBan {
		purger = strfry.NewClient(cfg.Strfry.ExecutablePath, cfg.Strfry.ConfigPath, cfg.Strfry.DeleteTimeout)
	}

	var observer list.RefreshObserver
	if collector != nil {
		observer = collector
	}
	refresher := list.NewRefresher(lists, db, purger, observer)

	register := func(t list.Type, lc config.ListSourceConfig) error {
		if lc.Source == "" {
			return nil
		}
		src, err := list.NewSource(lc.Source, list.Format(lc.Format), lc.AllowEmpty)
		if err != nil {
			return fmt.Errorf("building %s list source: %w", t, err)
		}
		refresher.Register(t, src, lc.RefreshInterval)
		return nil
	}

	if err := register(list.Allow, cfg.Lists.Allow.ListSourceConfig); err != nil {
		return nil, err
	}
	if err := register(list.Deny, cfg.Lists.Deny.ListSourceConfig); err != nil {
		return nil, err
	}
	if err := register(list.Words, cfg.Lists.Words.ListSourceConfig); err != nil {
		return nil, err
	}
	return refresher, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show plugin version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be blocked without actually blocking it.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if err := runApp(*configPath, *useDefaults, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func runApp(configPath string, useDefaults bool, dryRun bool) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.ToSlogLevel()}))
	slog.SetDefault(logger)
	if dryRun {
		slog.Warn("Plugin is running in DRY-RUN mode.")
	}
	slog.Info("Policy plugin starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	db, err := store.NewBadgerStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()
	if cfg.Metrics.ListenAddr != "" {
		go collector.Serve(ctx, cfg.Metrics.ListenAddr)
	}

	lists := list.NewCache()
	refresher, err := buildRefresher(cfg, lists, db, collector)
	if err != nil {
		return err
	}

	// Persisted snapshots first, then the first fetch: the engine has a
	// usable list before the first network round-trip completes.
	bootCtx, bootCancel := context.WithTimeout(ctx, time.Minute)
	refresher.Bootstrap(bootCtx)
	bootCancel()
	go refresher.Run(ctx)

	pipelineMutex.Lock()
	currentPipeline = buildPipeline(cfg, lists, collector)
	writesOnly = cfg.Policy.WritesOnly
	pipelineMutex.Unlock()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	onReload := func(newCfg *config.Config) {
		slog.Info("Reloading pipeline with new configuration...")
		newPipeline := buildPipeline(newCfg, lists, collector)

		pipelineMutex.Lock()
		currentPipeline = newPipeline
		writesOnly = newCfg.Policy.WritesOnly
		pipelineMutex.Unlock()

		// List sources and refresh intervals are fixed at startup; changing
		// them requires a restart.
		slog.Info("Pipeline reloaded successfully.", "path", configPath)
	}
	go config.StartWatcher(ctx, configPath, onReload, 0)

	return processEvents(ctx, os.Stdin, os.Stdout, dryRun)
}

func processEvents(ctx context.Context, r io.Reader, w io.Writer, dryRun bool) error {
	linesChan := make(chan []byte)
	errChan := make(chan error, 1)
	encoder := json.NewEncoder(w)

	go func() {
		defer close(errChan)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lineCopy := make([]byte, len(scanner.Bytes()))
			copy(lineCopy, scanner.Bytes())
			linesChan <- lineCopy
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(linesChan)
	}()

	slog.Info("Ready to process events from stdin...")
	for {
		select {
		case <-ctx.Done():
			// Cancellation is how the signal handler stops us: a clean exit,
			// not a failure.
			if errors.Is(ctx.Err(), context.Canceled) {
				slog.Info("Shutdown requested, stopping event processing.")
				return nil
			}
			return ctx.Err()
		case line, ok := <-linesChan:
			if !ok {
				if err := <-errChan; err != nil {
					return err
				}
				slog.Info("Input stream closed, shutting down.")
				return nil
			}

			if len(line) == 0 {
				continue
			}
			var input PolicyInput
			if err := json.Unmarshal(line, &input); err != nil {
				// Protocol gap by contract: a line we cannot parse gets no
				// output line at all.
				slog.Warn("Failed to decode policy input JSON", "error", err, "raw_line_prefix", string(line))
				continue
			}

			remoteIP := ""
			if input.SourceType == "IP4" || input.SourceType == "IP6" {
				remoteIP = input.SourceInfo
			} else if input.IP != "" {
				remoteIP = input.IP
			}

			pipelineMutex.RLock()
			p := currentPipeline
			onlyWrites := writesOnly
			pipelineMutex.RUnlock()

			var result policy.PolicyResponse
			if onlyWrites && input.Type != "" && input.Type != "new" {
				// Read traffic passes through without consuming rate budget
				// or triggering content scanning.
				result = policy.PolicyResponse{ID: input.Event.ID, Action: policy.ActionAccept}
			} else {
				result = p.ProcessEvent(ctx, &input.Event, remoteIP, dryRun)
			}

			if err := encoder.Encode(result); err != nil {
				if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
					return nil
				}
				slog.Error("Failed to write response to stdout", "error", err)
			}
		}
	}
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		return err
	}
	lists := list.NewCache()
	if _, err := buildRefresher(cfg, lists, nil, nil); err != nil {
		return err
	}
	_ = buildPipeline(cfg, lists, nil)
	return nil
}
