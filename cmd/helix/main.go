package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"helixmind/internal/agent"
	"helixmind/internal/bugs"
	"helixmind/internal/chat"
	"helixmind/internal/checkpoint"
	"helixmind/internal/config"
	"helixmind/internal/events"
	"helixmind/internal/logging"
	"helixmind/internal/memory"
	"helixmind/internal/permission"
	"helixmind/internal/project"
	"helixmind/internal/provider"
	"helixmind/internal/relay"
	"helixmind/internal/server"
	"helixmind/internal/session"
	"helixmind/internal/tools"
	"helixmind/internal/tui"
	"helixmind/internal/watcher"
)

const (
	version = "0.3.0"
	repoURL = "https://github.com/helixmind/helix"
)

func loadConfig() (config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// buildHandler assembles the turn pipeline around a session registry. The
// registry decides the permission story, so each command builds its own.
func buildHandler(cfg config.Config, log *zap.Logger, reg *session.Registry) (*chat.Handler, func()) {
	var p provider.Provider
	if flagMock || cfg.APIKey == "" {
		p = provider.NewMock()
	} else {
		p = provider.NewOpenAICompat(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	}

	exec := agent.NewExecutor(p, tools.DefaultRegistry(), checkpoint.NewFileStore(cfg.StateDir),
		agent.Config{MaxSteps: cfg.MaxSteps, ToolTimeout: cfg.GetToolTimeout()}, log)

	mem := memory.NewSQLiteStore(cfg.MemoryPath, log)
	journal := bugs.NewJournal(cfg.JournalPath)

	h := &chat.Handler{
		Registry:  reg,
		Executor:  exec,
		Memory:    mem,
		Journal:   journal,
		Project:   project.Detect(cfg.WorkDir),
		Logger:    log,
		WorkDir:   cfg.WorkDir,
		MaxOutput: cfg.MaxToolOutput,
	}
	cleanup := func() {
		journal.Close()
		mem.Close()
	}
	return h, cleanup
}

// relayExitErr filters the relay client's exit error for the serve group.
// Rejected credentials shut down only the relay; the local server and
// watcher keep running.
func relayExitErr(err error) error {
	if errors.Is(err, relay.ErrAuthRejected) {
		return nil
	}
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func main() {
	root := &cobra.Command{
		Use:     "helix",
		Short:   "Helix - AI coding assistant for your terminal",
		Long:    "Helix is an AI coding assistant that chats, reads and edits files, runs commands, and remembers what it learned about your project.\n\nUse without arguments for the interactive TUI, 'helix serve' for the headless web and relay mode, or 'helix auto' for one-shot autonomous runs.\n\nFor more information, visit: " + repoURL,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if flagNoTUI || !isatty.IsTerminal(os.Stdout.Fd()) {
				log, err := logging.New(flagVerbose)
				if err != nil {
					return err
				}
				defer log.Sync()
				return runREPL(cfg, log)
			}

			log, err := logging.ToFile(filepath.Join(config.DefaultDataDir(), "helix.log"), flagVerbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			asker := tui.NewAsker()
			reg := session.NewRegistry(func() *permission.Gate {
				g := permission.NewGate(cfg.DangerousTools, asker.Ask)
				if flagSkipPerms {
					g.SetSkipAll(true)
				}
				return g
			})
			handler, cleanup := buildHandler(cfg, log, reg)
			defer cleanup()

			return tui.Run(tui.Options{Handler: handler, Asker: asker, Version: version})
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to settings.yaml (default: user config dir)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug-level logging")
	root.PersistentFlags().BoolVar(&flagMock, "mock", false, "Use the scripted mock model (no API key needed)")
	root.Flags().BoolVarP(&flagNoTUI, "no-tui", "n", false, "Use a plain REPL instead of the TUI")
	root.Flags().BoolVar(&flagSkipPerms, "skip-perms", false, "Skip approval prompts for non-dangerous tools")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run headless: local web chat, browser relay, file watcher",
		Long:  "Run helix as a background service. Serves the local web chat endpoint, keeps the browser relay link up when relay_url is configured, and publishes file change events for the workspace.\n\nTool approvals are granted automatically in this mode, so only point it at a workspace you trust.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if flagAddr != "" {
				cfg.ServerAddr = flagAddr
			}
			log, err := logging.New(flagVerbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			bus := events.NewBus(log)
			reg := session.NewRegistry(func() *permission.Gate {
				return permission.NewGate(cfg.DangerousTools, permission.AutoApprove)
			})
			handler, cleanup := buildHandler(cfg, log, reg)
			defer cleanup()
			handler.Push = chat.BusPusher{Bus: bus}

			ctrl := &chat.Control{Handler: handler, Logger: log}
			srv := server.New(cfg.ServerAddr, bus, ctrl, handler, log)

			g, gctx := errgroup.WithContext(ctx)
			handler.Base = gctx

			g.Go(func() error { return srv.Run(gctx) })

			if cfg.RelayURL != "" {
				client, err := relay.New(relay.Options{
					URL:    cfg.RelayURL,
					APIKey: cfg.RelayAPIKey,
					Meta: relay.InstanceMeta{
						Name:    "helixmind",
						Version: version,
						WorkDir: cfg.WorkDir,
						PID:     os.Getpid(),
					},
					Control:        ctrl,
					Bus:            bus,
					Heartbeat:      cfg.GetHeartbeatInterval(),
					BackoffFloor:   cfg.GetBackoffFloor(),
					BackoffCeiling: cfg.GetBackoffCeiling(),
					Logger:         log,
				})
				if err != nil {
					return err
				}
				g.Go(func() error { return relayExitErr(client.Run(gctx)) })
			}

			if flagWatch {
				w := watcher.New(cfg.WorkDir, bus, log, 0)
				g.Go(func() error { return w.Run(gctx) })
			}

			fmt.Printf("helix %s serving on http://%s (ctrl+c to stop)\n", version, cfg.ServerAddr)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&flagWatch, "watch", true, "Publish file change events for the workspace")
	root.AddCommand(serveCmd)

	autoCmd := &cobra.Command{
		Use:   "auto [goal]",
		Short: "Run one autonomous goal to completion",
		Long:  "Run a single autonomous turn against the workspace and exit.\n\nExamples:\n  - helix auto \"fix the failing tests in internal/parser\"\n  - helix auto --mock \"list the TODOs\"\n  - echo \"add a CI workflow\" | helix auto",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal, err := readGoal(args)
			if err != nil {
				return err
			}
			return runGoal(chat.AutoGoal(goal))
		},
	}
	root.AddCommand(autoCmd)

	securityCmd := &cobra.Command{
		Use:   "security [focus]",
		Short: "Run a security review of the workspace",
		Long:  "Review the workspace for vulnerabilities and record findings in the journal. An optional focus narrows the review.\n\nExamples:\n  - helix security\n  - helix security \"the auth middleware\"",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			focus := ""
			if len(args) > 0 {
				focus = args[0]
			}
			return runGoal(chat.SecurityReviewGoal(focus))
		},
	}
	root.AddCommand(securityCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runREPL(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	in := bufio.NewReader(os.Stdin)
	reg := session.NewRegistry(func() *permission.Gate {
		g := permission.NewGate(cfg.DangerousTools, stdinAsker(in))
		if flagSkipPerms {
			g.SetSkipAll(true)
		}
		return g
	})
	h, cleanup := buildHandler(cfg, log, reg)
	defer cleanup()

	id := h.Executor.Identity()
	chatID := "repl-" + uuid.NewString()[:8]
	fmt.Printf("helix %s (%s/%s) in %s\n", version, id.Provider, id.Model, cfg.WorkDir)
	fmt.Println("Type a message, /quit to exit.")

	for {
		fmt.Print("\nyou> ")
		line, err := in.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" || text == "/q" {
			return nil
		}
		runPrintedTurn(ctx, h, chatID, text)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// stdinAsker prompts on the same reader the REPL reads from, so buffered
// input is never split between two readers.
func stdinAsker(in *bufio.Reader) permission.Asker {
	return func(tool, input string) permission.Decision {
		fmt.Printf("\nallow %s? %s [y/N/a] ", tool, firstLine(input, 100))
		line, err := in.ReadString('\n')
		if err != nil {
			return permission.Deny
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return permission.AllowOnce
		case "a", "always":
			return permission.AllowAlways
		default:
			return permission.Deny
		}
	}
}

// runGoal executes one unattended turn and prints the transcript. Approvals
// are automatic, same as serve.
func runGoal(text string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(flagVerbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	reg := session.NewRegistry(func() *permission.Gate {
		return permission.NewGate(cfg.DangerousTools, permission.AutoApprove)
	})
	h, cleanup := buildHandler(cfg, log, reg)
	defer cleanup()

	start := time.Now()
	res := runPrintedTurn(ctx, h, "auto-"+uuid.NewString()[:8], text)

	fmt.Printf("\nDone in %s (%d steps, %d in / %d out tokens)\n",
		time.Since(start).Round(time.Millisecond), res.Steps, res.Usage.InputTokens, res.Usage.OutputTokens)
	if res.Outcome != agent.OutcomeCompleted {
		return fmt.Errorf("turn %s", res.Outcome)
	}
	return nil
}

func runPrintedTurn(ctx context.Context, h *chat.Handler, chatID, text string) agent.Result {
	res := h.RunTurn(ctx, chatID, text, agent.Callbacks{
		OnTextChunk: func(_ string, chunk string) {
			fmt.Print(chunk)
		},
		OnToolStart: func(_ string, step int, name, input string) {
			fmt.Fprintf(os.Stderr, "\n[step %d] %s %s\n", step, name, firstLine(input, 120))
		},
		OnToolEnd: func(_ string, step int, name string, r tools.Result) {
			if r.Status == tools.StatusError {
				fmt.Fprintf(os.Stderr, "[step %d] %s failed: %s\n", step, name, firstLine(r.Err, 120))
			} else {
				fmt.Fprintf(os.Stderr, "[step %d] %s ok (%dms)\n", step, name, r.DurationMs)
			}
		},
	})
	fmt.Println()
	switch res.Outcome {
	case agent.OutcomeAborted:
		fmt.Println("(turn aborted)")
	case agent.OutcomeFailed:
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", res.Err)
		}
	}
	return res
}

func readGoal(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	fmt.Println("Enter the goal (Ctrl+D when done):")
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("error reading input: %w", err)
	}
	goal := strings.TrimSpace(string(data))
	if goal == "" {
		return "", fmt.Errorf("no goal provided")
	}
	return goal, nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

var (
	flagConfig    string
	flagVerbose   bool
	flagMock      bool
	flagNoTUI     bool
	flagSkipPerms bool
	flagAddr      string
	flagWatch     bool
)
