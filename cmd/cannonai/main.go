// Command cannonai is the interactive entry point for the conversational
// gateway: it loads configuration, wires a provider driver into the
// orchestrator, and drives a line-oriented REPL against the active
// conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/google/uuid"

	"github.com/CannonWest/CannonAI-sub001/internal/config"
	"github.com/CannonWest/CannonAI-sub001/internal/errs"
	"github.com/CannonWest/CannonAI-sub001/internal/graph"
	"github.com/CannonWest/CannonAI-sub001/internal/health"
	"github.com/CannonWest/CannonAI-sub001/internal/orchestrator"
	"github.com/CannonWest/CannonAI-sub001/internal/session"
	"github.com/CannonWest/CannonAI-sub001/internal/store"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/anthropic"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/anyllm"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/deepseek"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/gemini"
	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm/openai"
)

// Exit codes, per the external interface contract.
const (
	exitOK            = 0
	exitConfigInvalid = 2
	exitAuthFailed    = 3
	exitStoreIOError  = 4
	exitInterrupted   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cannonai: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cannonai: %v\n", err)
		}
		return exitConfigInvalid
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinDrivers(reg)

	entry := config.ResolvedProvider(cfg)
	if entry.Name == "" {
		fmt.Fprintln(os.Stderr, "cannonai: no provider configured")
		return exitConfigInvalid
	}

	driver, err := reg.CreateLLM(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannonai: %v\n", err)
		return exitConfigInvalid
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cred := llm.Credential{APIKey: entry.Credential, BaseURL: entry.BaseURL}
	if err := driver.Initialize(ctx, cred); err != nil {
		var derr *llm.DriverError
		if errors.As(err, &derr) && (derr.Kind == llm.ErrorKindAuthFailed || derr.Kind == llm.ErrorKindConfigInvalid) {
			fmt.Fprintf(os.Stderr, "cannonai: authentication failed: %v\n", err)
			return exitAuthFailed
		}
		fmt.Fprintf(os.Stderr, "cannonai: provider initialization failed: %v\n", err)
		return exitAuthFailed
	}

	st, err := store.New(cfg.ConversationsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannonai: %v\n", err)
		return exitStoreIOError
	}

	sess := session.New(st, entry.Model, llm.ParamSet(cfg.GenerationParams), cfg.DefaultSystemInstruction, cfg.UseStreaming)
	orch := orchestrator.New(st)

	if cfg.HealthAddr != "" {
		startHealthServer(cfg.HealthAddr, st, driver)
	}

	printStartupSummary(cfg, entry)

	repl := &repl{
		cfg:    cfg,
		driver: driver,
		store:  st,
		sess:   sess,
		orch:   orch,
	}
	if err := repl.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ncannonai: interrupted")
			return exitInterrupted
		}
		var coreErr *errs.Error
		if errors.As(err, &coreErr) && coreErr.Kind == errs.KindNotFound {
			fmt.Fprintf(os.Stderr, "cannonai: %v\n", err)
			return exitStoreIOError
		}
		fmt.Fprintf(os.Stderr, "cannonai: %v\n", err)
		return exitStoreIOError
	}
	return exitOK
}

// registerBuiltinDrivers wires each provider package's constructor into the
// registry behind the uniform ProviderEntry factory signature CreateLLM
// expects.
func registerBuiltinDrivers(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Driver, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.Credential, e.Model, opts...)
	})

	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Driver, error) {
		var opts []anthropic.Option
		if e.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(e.BaseURL))
		}
		return anthropic.New(e.Credential, e.Model, opts...)
	})

	reg.RegisterLLM("deepseek", func(e config.ProviderEntry) (llm.Driver, error) {
		return deepseek.New(e.Credential, e.Model)
	})

	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Driver, error) {
		var opts []gemini.Option
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		return gemini.New(context.Background(), e.Credential, e.Model, opts...)
	})

	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Driver, error) {
		var opts []anyllmlib.Option
		providerName := e.Model
		if v, ok := e.Options["backend"].(string); ok && v != "" {
			providerName = v
		}
		return anyllm.New(providerName, e.Model, opts...)
	})
}

// startHealthServer binds /healthz and /readyz on addr in the background.
// The readiness check verifies the conversation store is listable and the
// active provider's model list is reachable.
func startHealthServer(addr string, st *store.Store, driver llm.Driver) {
	h := health.New(
		health.StoreChecker("conversations", func(ctx context.Context) error {
			_, err := st.List(ctx)
			return err
		}),
		health.ProviderChecker("provider", func(ctx context.Context) error {
			_, err := driver.ListModels(ctx)
			return err
		}),
	)
	mux := http.NewServeMux()
	h.Register(mux)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server exited", "err", err)
		}
	}()
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printStartupSummary(cfg *config.Config, entry config.ProviderEntry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         cannonai — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Provider        : %-19s ║\n", entry.Name)
	fmt.Printf("║  Model           : %-19s ║\n", entry.Model)
	fmt.Printf("║  Streaming       : %-19v ║\n", cfg.UseStreaming)
	fmt.Printf("║  Conversations   : %-19s ║\n", cfg.ConversationsDir)
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println("type a message to chat, or /help for commands")
}

// repl drives the interactive loop: read a line, dispatch it either as a
// slash command or as a new user turn submitted to the orchestrator.
type repl struct {
	cfg    *config.Config
	driver llm.Driver
	store  *store.Store
	sess   *session.Session
	orch   *orchestrator.Orchestrator
}

func (r *repl) run(ctx context.Context) error {
	if _, err := r.sess.StartNew(ctx, uuid.NewString(), "New Conversation"); err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	inputs := make(chan string)
	go func() {
		defer close(inputs)
		for scanner.Scan() {
			inputs <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-inputs:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if err := r.dispatch(ctx, line); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
				continue
			}
			if err := r.submit(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

func (r *repl) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	switch cmd {
	case "/help":
		fmt.Println("/new, /list, /rename <title>, /switch <id|title>, /retry, /cancel, /exit")
		return nil
	case "/exit":
		return context.Canceled
	case "/new":
		conv, err := r.sess.StartNew(ctx, uuid.NewString(), "New Conversation")
		if err != nil {
			return err
		}
		fmt.Printf("started conversation %s\n", conv.ID)
		return nil
	case "/list":
		summaries, err := r.store.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range summaries {
			fmt.Printf("%s  %-30s  %d messages\n", s.ID, s.Title, s.MessageCount)
		}
		return nil
	case "/switch":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /switch <id|title>")
		}
		conv, err := r.store.Load(ctx, fields[1])
		if err != nil {
			return err
		}
		return r.sess.Switch(ctx, conv)
	case "/rename":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /rename <title>")
		}
		conv := r.sess.Active()
		if conv == nil {
			return fmt.Errorf("no active conversation")
		}
		title := strings.Join(fields[1:], " ")
		updated, err := r.store.Rename(ctx, conv.ID, title)
		if err != nil {
			return err
		}
		return r.sess.Switch(ctx, updated)
	case "/retry":
		return r.retry(ctx)
	case "/cancel":
		conv := r.sess.Active()
		if conv == nil {
			return fmt.Errorf("no active conversation")
		}
		r.orch.Cancel(conv.ID)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (r *repl) submit(ctx context.Context, content string) error {
	conv := r.sess.Active()
	if conv == nil {
		return fmt.Errorf("no active conversation")
	}
	g := graph.New(conv)
	if _, err := g.AddUser(content, nil); err != nil {
		return err
	}
	events, err := r.orch.Submit(ctx, conv, r.driver, r.sess.Model(), r.sess.Params(), r.sess.Streaming())
	if err != nil {
		return err
	}
	return r.consume(events)
}

func (r *repl) retry(ctx context.Context) error {
	conv := r.sess.Active()
	if conv == nil {
		return fmt.Errorf("no active conversation")
	}
	if conv.Metadata.ActiveLeaf == nil {
		return fmt.Errorf("nothing to retry")
	}
	events, err := r.orch.Retry(ctx, conv, *conv.Metadata.ActiveLeaf, r.driver, r.sess.Model(), r.sess.Params(), r.sess.Streaming())
	if err != nil {
		return err
	}
	return r.consume(events)
}

// consume drains one worker's event stream to stdout, mirroring the
// Started/Chunk*/Usage?/ThinkingStep*/(Done|Error|Cancelled) sequence a
// remote subscriber would see over SSE.
func (r *repl) consume(events <-chan orchestrator.Event) error {
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventChunk:
			fmt.Print(ev.Text)
		case orchestrator.EventThinkingStep:
			fmt.Printf("\n[thinking: %s] %s\n", ev.ThinkingName, ev.ThinkingContent)
		case orchestrator.EventDone:
			fmt.Println()
		case orchestrator.EventError:
			fmt.Printf("\n[error: %s] %s\n", ev.ErrKind, ev.ErrMessage)
		case orchestrator.EventCancelled:
			fmt.Printf("\n[cancelled: %s]\n", ev.CancelReason)
		}
	}
	return nil
}
