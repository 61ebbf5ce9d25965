// Package cmd implements the osprey command line interface.
//
// The root command owns the global flags and the dependency wiring:
// configuration loads once before any subcommand runs, the slog
// factory is fed by --verbose and --json-logs, and the security stack
// (manifest validator, permission registry, consent ledger, audit
// log, plugin manager) is built lazily so read-only commands never
// touch state files they do not need.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/audit"
	"github.com/osprey0/osprey/internal/config"
	"github.com/osprey0/osprey/internal/consent"
	"github.com/osprey0/osprey/internal/knowledge"
	"github.com/osprey0/osprey/internal/log"
	"github.com/osprey0/osprey/internal/manifest"
	"github.com/osprey0/osprey/internal/observability"
	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/plugin"
	"github.com/osprey0/osprey/internal/rag"
	"github.com/osprey0/osprey/internal/sandbox"
	"github.com/osprey0/osprey/internal/vectorstore"
)

// telemetryFlushTimeout bounds the final span flush on exit.
const telemetryFlushTimeout = 5 * time.Second

// app carries state shared across commands: global flag values, the
// loaded configuration, the logger, and lazily wired dependencies.
type app struct {
	verbose  bool
	jsonLogs bool

	cfg    *config.Config
	cfgErr error
	logger *slog.Logger

	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer

	stackOnce sync.Once
	stack     *securityStack
	stackErr  error

	telemetryShutdown func(context.Context) error
}

// Execute runs the CLI until completion or an interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the CLI bound to the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	cfg, cfgErr := config.Load()
	a := &app{
		cfg:    cfg,
		cfgErr: cfgErr,
		stdin:  bufio.NewReader(in),
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:   "osprey",
		Short: "Retrieval-augmented assistant with a sandboxed plugin system",
		Long: "osprey answers questions from your own documents and runs community\n" +
			"plugins behind a permission, consent, and audit gate.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       AppVersion,
	}

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		level := slog.LevelInfo
		if a.verbose {
			level = slog.LevelDebug
		}
		a.logger = log.NewWithWriter(a.stderr, log.Config{Level: level, JSON: a.jsonLogs})
		slog.SetDefault(a.logger)

		// A missing API key is deferred: ragClient reports it when a
		// command actually needs the model. Everything else is fatal.
		if a.cfgErr != nil && (a.cfg == nil || !errors.Is(a.cfgErr, config.ErrMissingAPIKey)) {
			return fmt.Errorf("loading configuration: %w", a.cfgErr)
		}

		shutdown, err := observability.Setup(cmd.Context(), observability.Config{
			Enabled:        a.cfg.Telemetry.Enabled,
			Endpoint:       a.cfg.Telemetry.Endpoint,
			ServiceName:    a.cfg.Telemetry.ServiceName,
			ServiceVersion: AppVersion,
			Environment:    a.cfg.Telemetry.Environment,
		}, a.logger)
		if err != nil {
			return err
		}
		a.telemetryShutdown = shutdown
		return nil
	}

	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		if a.telemetryShutdown == nil {
			return nil
		}
		// The command context may already be cancelled; the flush gets
		// its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		return a.telemetryShutdown(ctx)
	}

	cmd.AddCommand(
		newAskCmd(a),
		newIndexCmd(a),
		newPluginsCmd(a),
		newPermissionsCmd(a),
		newAuditCmd(a),
		newEvalCmd(a),
		newConfigCmd(a),
		newMCPCmd(a),
		newMigrateCmd(a),
		newVersionCmd(),
	)

	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

// securityStack is the plugin security core: every piece the plugin
// lifecycle needs, wired once per invocation on first use.
type securityStack struct {
	validator *manifest.Validator
	perms     *permission.Registry
	consent   *consent.Manager
	auditor   *audit.Logger
	manager   *plugin.Manager
}

func (a *app) securityStack() (*securityStack, error) {
	a.stackOnce.Do(func() {
		a.stack, a.stackErr = a.buildSecurityStack()
	})
	return a.stack, a.stackErr
}

func (a *app) buildSecurityStack() (*securityStack, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	validator := manifest.NewValidator(a.logger)
	perms, err := permission.NewRegistry(filepath.Join(dir, "permissions.json"), a.logger)
	if err != nil {
		return nil, err
	}
	// Prompts go to stderr so they survive stdout redirection.
	prompter := consent.NewTerminalPrompter(a.stdin, a.stderr)
	consentMgr, err := consent.NewManager(filepath.Join(dir, "consent.json"), prompter, a.logger)
	if err != nil {
		return nil, err
	}
	auditor, err := audit.New(filepath.Join(dir, "audit.log"), a.logger)
	if err != nil {
		return nil, err
	}

	p := a.cfg.Plugins
	manager, err := plugin.NewManager(plugin.ManagerConfig{
		PluginsDir: p.Dir,
		StatePath:  filepath.Join(dir, "plugins.json"),
		Sandbox: sandbox.Config{
			Timeout:        time.Duration(p.TimeoutSeconds) * time.Second,
			CPUTimeLimit:   time.Duration(p.CPUSeconds) * time.Second,
			MaxOutputBytes: p.MaxOutputBytes,
		},
		DocumentRoots:       a.cfg.Documents.Roots,
		ForceBlockNetwork:   p.BlockNetwork,
		ExecutionsPerMinute: p.ExecutionsPerMinute,
		RateBurst:           p.RateBurst,
	}, validator, perms, consentMgr, auditor, a.logger)
	if err != nil {
		return nil, err
	}

	return &securityStack{
		validator: validator,
		perms:     perms,
		consent:   consentMgr,
		auditor:   auditor,
		manager:   manager,
	}, nil
}

// ragDeps are the retrieval collaborators for ask, index, eval, and
// the MCP server. Close releases the vector store.
type ragDeps struct {
	client  *rag.Client
	store   vectorstore.Store
	indexer *knowledge.Indexer
}

func (d *ragDeps) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
}

// ragClient builds the generation client. A configuration error
// deferred at startup, such as a missing API key, surfaces here.
func (a *app) ragClient(ctx context.Context) (*rag.Client, error) {
	if a.cfgErr != nil {
		return nil, a.cfgErr
	}
	return rag.NewClient(ctx, a.cfg.APIKey, a.cfg.Model, a.cfg.EmbeddingModel, a.logger)
}

func (a *app) ragDeps(ctx context.Context) (*ragDeps, error) {
	client, err := a.ragClient(ctx)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	indexer, err := knowledge.NewIndexer(store, client, a.cfg.Documents, a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &ragDeps{client: client, store: store, indexer: indexer}, nil
}

// pipeline builds the answer pipeline over deps. An enabled processor
// plugin becomes the reranker; a broken security stack only costs the
// rerank step, never the answer.
func (a *app) pipeline(deps *ragDeps) (*rag.Pipeline, error) {
	opts := []rag.PipelineOption{
		rag.WithTopK(a.cfg.TopK),
		rag.WithRewriting(a.cfg.HyDE),
	}
	stack, err := a.securityStack()
	if err != nil {
		a.logger.Warn("plugin reranker unavailable", "error", err)
	} else if r := firstProcessor(stack.manager); r != nil {
		opts = append(opts, rag.WithReranker(r))
	}
	return rag.NewPipeline(deps.client, deps.indexer, a.logger, opts...)
}

// firstProcessor returns the first enabled processor plugin in name
// order, or nil when none is enabled.
func firstProcessor(mgr *plugin.Manager) rag.Reranker {
	for _, st := range mgr.List() {
		if st.Type != manifest.TypeProcessor {
			continue
		}
		proc, err := mgr.ProcessorFor(st.Name)
		if err != nil {
			continue
		}
		return proc
	}
	return nil
}

// confirm asks a yes/no question. Only an explicit y or yes confirms;
// a closed input stream refuses.
func (a *app) confirm(question string) (bool, error) {
	fmt.Fprintf(a.stderr, "%s [y/N]: ", question)
	line, err := a.stdin.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.stderr)
			return false, nil
		}
		return false, fmt.Errorf("reading answer: %w", err)
	}
	ans := strings.ToLower(strings.TrimSpace(line))
	return ans == "y" || ans == "yes", nil
}
