package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"phasedoc/pkg/agent"
	"phasedoc/pkg/agent/middleware/metrics"
	"phasedoc/pkg/answers"
	"phasedoc/pkg/config"
	"phasedoc/pkg/document"
	"phasedoc/pkg/eventlog"
	"phasedoc/pkg/gateway"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/persistence"
	"phasedoc/pkg/phase"
	"phasedoc/pkg/proto"
	"phasedoc/pkg/utils"
)

// passwordEnv unlocks the secrets file without a prompt.
const passwordEnv = "PHASEDOC_PASSWORD"

// app is everything a command needs, built from the project config.
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	factory  *agent.LLMClientFactory
	gateway  *gateway.Gateway
	store    answers.Store
	db       *sql.DB
	table    *phase.Table
	outlines *document.Outlines
	events   *eventlog.Writer // nil when the transcript is disabled
	input    *lineReader
	logger   *logx.Logger
	cancel   context.CancelFunc
}

// newApp loads config and secrets, opens the answer store and builds the LLM stack.
// Callers must call close.
func (c *cli) newApp(ctx context.Context, in io.Reader, out io.Writer) (*app, error) {
	if err := config.LoadConfig(c.projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	input := newLineReader(in)
	if err := unlockSecrets(c.projectDir, input, out); err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		input:    input,
		logger:   logx.NewLogger("cli"),
	}

	opts := []agent.Option{agent.WithRegisterer(a.registry)}
	if c.baseClient != nil {
		opts = append(opts, agent.WithBaseClient(c.baseClient))
	}
	a.factory, err = agent.NewLLMClientFactory(cfg, opts...)
	if err != nil {
		return nil, err
	}
	client, err := a.factory.CreateClient()
	if err != nil {
		return nil, err
	}
	bgCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.factory.Start(bgCtx)
	a.gateway = gateway.New(client, cfg.LLM.Generation)

	if err := a.openStore(); err != nil {
		a.close(out)
		return nil, err
	}
	if err := a.loadTables(); err != nil {
		a.close(out)
		return nil, err
	}
	if cfg.Events.Enabled {
		if a.events, err = eventlog.NewWriter(config.ResolvePath(cfg.Events.Dir)); err != nil {
			a.close(out)
			return nil, err
		}
	}
	return a, nil
}

// record appends ev to the transcript. Failures are logged, not returned.
func (a *app) record(h *phase.Handler, ev eventlog.Event) {
	if a.events == nil {
		return
	}
	ev.Session = h.SessionID()
	if ev.Phase == "" {
		ev.Phase = h.CurrentPhase()
	}
	if err := a.events.Write(ev); err != nil {
		a.logger.Warn("Failed to record %s event: %v", ev.Kind, err)
	}
}

func (a *app) openStore() error {
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.store = answers.NewMemoryStore()
		return nil
	case config.StoreSQLite:
		path := config.ResolvePath(a.cfg.Store.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
		if err := persistence.Initialize(path); err != nil {
			return err
		}
		a.db = persistence.GetDB()
		a.store = persistence.NewAnswerStore(a.db)
		return nil
	default:
		return fmt.Errorf("unsupported store backend %q", a.cfg.Store.Backend)
	}
}

func (a *app) loadTables() error {
	a.table = phase.DefaultTable()
	if f := a.cfg.Phases.File; f != "" {
		t, err := phase.LoadTable(config.ResolvePath(f))
		if err != nil {
			return err
		}
		a.table = t
	}

	builtin, err := document.Builtin()
	if err != nil {
		return err
	}
	a.outlines = builtin
	if f := a.cfg.Documents.OutlinesFile; f != "" {
		extra, err := document.LoadOutlines(config.ResolvePath(f))
		if err != nil {
			return err
		}
		a.outlines = builtin.Merge(extra)
	}
	return nil
}

// close dumps metrics if configured, prints the session's usage and releases the store.
func (a *app) close(out io.Writer) {
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.DumpPath != "" && a.registry != nil {
		if err := a.dumpMetrics(config.ResolvePath(a.cfg.Metrics.DumpPath)); err != nil {
			a.logger.Warn("Failed to write metrics: %v", err)
		}
	}
	if a.factory != nil {
		if u := a.factory.Usage(); u != nil {
			t := u.Totals()
			if t.RequestCount > 0 {
				fmt.Fprintf(out, "LLM usage: %d requests, %d retries, %d blocked, %d tokens\n",
					t.RequestCount, t.RetryCount, t.BlockedCount, t.TotalTokens)
			}
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("Failed to close event log: %v", err)
		}
	}
	if a.db != nil {
		if err := persistence.Reset(); err != nil {
			a.logger.Warn("Failed to close database: %v", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *app) dumpMetrics(path string) error {
	var sb strings.Builder
	if err := metrics.WriteText(&sb, a.registry); err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, []byte(sb.String()), 0o644)
}

// openSession returns a handler for sessionID, resuming the stored phase
// unless initialPhase is set.
func (a *app) openSession(ctx context.Context, sessionID, initialPhase string, values map[string]string) (*phase.Handler, error) {
	start := initialPhase
	ended := false

	if a.db != nil {
		s, err := persistence.GetSession(ctx, a.db, sessionID)
		switch {
		case errors.Is(err, persistence.ErrSessionNotFound):
			if start == "" {
				start = a.defaultPhase()
			}
			if err := persistence.CreateSession(ctx, a.db, sessionID, start); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		case start == "":
			if s.Status == persistence.SessionStatusCompleted {
				ended = true
				start = a.lastPhase()
			} else if _, ok := a.table.Lookup(s.CurrentPhase); ok {
				start = s.CurrentPhase
				a.logger.Info("Resuming session %s at phase %s", sessionID, start)
			}
		}
	}

	if start == "" {
		start = a.defaultPhase()
	}
	h, err := phase.NewHandler(ctx, a.gateway, a.store, a.table, sessionID,
		phase.WithInitialPhase(start), phase.WithValues(values))
	if err != nil {
		return nil, err
	}
	if ended {
		h.AdvanceToNextPhase()
	}
	return h, nil
}

// savePhase records the handler's phase so the session can be resumed.
func (a *app) savePhase(ctx context.Context, h *phase.Handler) error {
	if a.db == nil {
		return nil
	}
	current, status := h.CurrentPhase(), persistence.SessionStatusActive
	if h.Ended() {
		current, status = proto.PhaseCompleted, persistence.SessionStatusCompleted
	}
	return persistence.UpdateSessionPhase(ctx, a.db, h.SessionID(), current, status)
}

// resetSession clears a session's answers and restarts it at phaseID, or at
// the phase new sessions start in when phaseID is empty.
func (a *app) resetSession(ctx context.Context, h *phase.Handler, phaseID string) error {
	if phaseID == "" {
		phaseID = a.defaultPhase()
	}
	if err := h.ResetTo(ctx, phaseID); err != nil {
		return err
	}
	a.record(h, eventlog.Event{Kind: eventlog.KindReset})
	return a.savePhase(ctx, h)
}

// defaultPhase is where new sessions start.
func (a *app) defaultPhase() string {
	if a.cfg.Phases.InitialPhase != "" {
		return a.cfg.Phases.InitialPhase
	}
	return a.table.Start()
}

func (a *app) lastPhase() string {
	chain, err := a.table.Chain(a.table.Start())
	if err != nil || len(chain) == 0 {
		return a.table.Start()
	}
	return chain[len(chain)-1].ID
}

// newBuilder creates a document builder using the configured concurrency.
func (a *app) newBuilder() (*document.Builder, error) {
	return document.NewBuilder(a.gateway, a.outlines, document.WithConcurrency(a.cfg.Documents.Concurrency))
}

// writeDocument saves doc under dir (the configured output directory when
// empty) and returns the written path.
func (a *app) writeDocument(c *cli, doc *document.Document, dir string, stamp bool) (string, error) {
	if dir == "" {
		dir = config.ResolvePath(a.cfg.Documents.OutputDir)
	}
	var at time.Time
	if stamp {
		at = c.clock()
	}
	path := filepath.Join(dir, document.SafeFilename(doc.Filename, at))
	if err := utils.WriteFileAtomic(path, []byte(doc.Content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// unlockSecrets decrypts the project's secrets file, if any, into memory.
func unlockSecrets(projectDir string, in *lineReader, out io.Writer) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}
	password, err := readPassword(in, out, "Secrets password: ")
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// readPassword returns $PHASEDOC_PASSWORD, or prompts without echo on a terminal,
// or reads a line otherwise.
func readPassword(in *lineReader, out io.Writer, prompt string) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	return in.secret(out, prompt)
}

// lineReader reads answers from the command's input. Terminal input is read
// without echo for secrets.
type lineReader struct {
	src     io.Reader
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{src: r, scanner: bufio.NewScanner(r)}
}

// ask prints prompt and returns the next line. ok is false at end of input.
func (l *lineReader) ask(out io.Writer, prompt string) (line string, ok bool) {
	fmt.Fprint(out, prompt)
	if !l.scanner.Scan() {
		fmt.Fprintln(out)
		return "", false
	}
	return strings.TrimSpace(l.scanner.Text()), true
}

func (l *lineReader) secret(out io.Writer, prompt string) (string, error) {
	if f, ok := l.src.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, ok := l.ask(out, prompt)
	if !ok {
		return "", errors.New("no input for password")
	}
	return line, nil
}
