// Package app assembles the ingestion service from configuration. The
// binaries under cmd/ share it so every entry point in a process goes
// through one Pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/helpdeskai/helpdesk/engine/classify"
	"github.com/helpdeskai/helpdesk/engine/dedup"
	"github.com/helpdeskai/helpdesk/engine/embed"
	"github.com/helpdeskai/helpdesk/engine/ingest"
	"github.com/helpdeskai/helpdesk/engine/mail"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/clock"
	"github.com/helpdeskai/helpdesk/pkg/config"
	"github.com/helpdeskai/helpdesk/pkg/events"
	"github.com/helpdeskai/helpdesk/pkg/fn"
	"github.com/helpdeskai/helpdesk/pkg/metrics"
	"github.com/helpdeskai/helpdesk/pkg/ollama"
	"github.com/helpdeskai/helpdesk/pkg/resilience"
	"github.com/helpdeskai/helpdesk/pkg/schedule"
)

// App holds the wired components. Fields are nil when the binary did not
// ask for them.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	Metrics  *metrics.Registry
	Clock    clock.Clock
	Store    tickets.Store
	Index    semantic.Index
	Embedder *embed.Client
	Events   events.Publisher
	Pipeline *ingest.Pipeline
	Runner   *ingest.Runner
	Sched    *schedule.Scheduler
	// NATS is set when the events backend is nats.
	NATS *nats.Conn

	closers []func() error
}

// Overrides replaces components that would otherwise be built from config.
// Tests use it to run the whole service in memory.
type Overrides struct {
	Mailbox    mail.Mailbox
	Classifier classify.Classifier
	Provider   embed.Provider
	Store      tickets.Store
	Index      semantic.Index
	Events     events.Publisher
	Clock      clock.Clock
}

// New builds the storage side: ticket store and vector index. Binaries that
// only serve or repair tickets stop here.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, ov Overrides) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New(), Clock: ov.Clock}
	if a.Clock == nil {
		a.Clock = clock.Real{}
	}

	var err error
	if a.Store = ov.Store; a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.Index = ov.Index; a.Index == nil {
		if a.Index, err = a.openIndex(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if cfg.Index.Backend == "memory" {
			if err := a.seedIndex(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
	}
	if a.Embedder, err = a.openEmbedder(ov.Provider); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// WithIngest adds the pipeline, the mail runner and its scheduler.
func (a *App) WithIngest(ctx context.Context, ov Overrides) error {
	cfg := a.Config

	cls := ov.Classifier
	if cls == nil {
		var err error
		if cls, err = a.openClassifier(); err != nil {
			return err
		}
	}

	if a.Events = ov.Events; a.Events == nil {
		pub, err := a.openEvents()
		if err != nil {
			return err
		}
		a.Events = pub
	}
	a.onClose(a.Events.Close)

	a.Pipeline = ingest.NewPipeline(ingest.Deps{
		Classifier: cls,
		Embedder:   a.Embedder,
		Dedup: dedup.NewChecker(a.Index, dedup.Config{
			Threshold:     cfg.Dedup.Threshold,
			Window:        cfg.Dedup.Window,
			K:             cfg.Dedup.K,
			NumCandidates: cfg.Dedup.NumCandidates,
		}, a.Clock),
		Store:   a.Store,
		Index:   a.Index,
		Events:  a.Events,
		Metrics: ingest.NewMetrics(a.Metrics),
		Clock:   a.Clock,
		Logger:  a.Log,
		Retry: fn.RetryOpts{
			MaxAttempts: cfg.Ingest.RetryAttempts,
			InitialWait: cfg.Ingest.RetryBackoff,
			MaxWait:     8 * cfg.Ingest.RetryBackoff,
			Jitter:      true,
		},
		CallTimeout: cfg.Ingest.CallTimeout,
	})

	box := ov.Mailbox
	if box == nil {
		var err error
		if box, err = a.openMailbox(ctx); err != nil {
			return err
		}
	}
	src := mail.NewSource(box, mail.Options{
		Query:       cfg.Mail.Query,
		BatchSize:   cfg.Mail.BatchSize,
		Policy:      mail.Policy(cfg.Mail.Policy),
		CallTimeout: cfg.Ingest.CallTimeout,
		Logger:      a.Log,
	})
	a.Runner = ingest.NewRunner(src, a.Pipeline, cfg.Ingest.Workers)

	skipped := a.Metrics.Counter("helpdesk_ingest_cycles_skipped_total", "Ticks dropped because a cycle was still running")
	failed := a.Metrics.Counter("helpdesk_ingest_cycles_failed_total", "Cycles that ended with an error")
	a.Sched = schedule.New("mail-poll", a.Runner.Job(), schedule.Options{
		Interval:   cfg.Ingest.PollInterval,
		MaxRun:     cfg.Ingest.MaxCycle,
		RunOnStart: true,
		Clock:      a.Clock,
		Logger:     a.Log,
		OnSkip:     skipped.Inc,
		OnRun: func(_ time.Duration, err error) {
			if err != nil {
				failed.Inc()
			}
		},
	})

	if cfg.Events.ConsumeInbound && a.NATS != nil {
		sub, err := a.Pipeline.StartConsumer(a.NATS)
		if err != nil {
			return fmt.Errorf("app: subscribe %s: %w", events.InboundSubject, err)
		}
		a.onClose(sub.Unsubscribe)
		a.Log.Info("consuming inbound messages", "subject", events.InboundSubject)
	}
	return nil
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(f func() error) { a.closers = append(a.closers, f) }

func (a *App) openStore(ctx context.Context) (tickets.Store, error) {
	cfg := a.Config.Store
	if cfg.Backend == "memory" {
		a.Log.Warn("using in-memory ticket store; tickets are lost on exit")
		return tickets.NewMemory(), nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.onClose(func() error { return driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("app: neo4j verify: %w", err)
	}
	st := tickets.NewNeo4jStore(driver, cfg.Database)
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("app: neo4j schema: %w", err)
	}
	a.Log.Info("connected to Neo4j", "url", cfg.Neo4jURL)
	return st, nil
}

func (a *App) openIndex(ctx context.Context) (semantic.Index, error) {
	cfg := a.Config.Index
	dims := a.Config.Embedding.Dims
	if cfg.Backend == "memory" {
		a.Log.Warn("using in-memory vector index; rebuild with reindex after restart")
		return semantic.NewMemoryIndex(dims), nil
	}
	q, err := semantic.NewQdrant(cfg.QdrantAddr, cfg.Collection, dims, semantic.WithNumCandidates(a.Config.Dedup.NumCandidates))
	if err != nil {
		return nil, err
	}
	a.onClose(q.Close)
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("app: qdrant collection: %w", err)
	}
	a.Log.Info("connected to Qdrant", "addr", cfg.QdrantAddr, "collection", cfg.Collection, "dims", dims)
	return q, nil
}

// seedIndex loads tickets still inside the dedup window into a fresh
// in-memory index so a restart does not forget recent complaints.
func (a *App) seedIndex(ctx context.Context) error {
	q := tickets.Query{
		WithVector: true,
		Since:      a.Clock.Now().Add(-a.Config.Dedup.Window),
		Order:      tickets.OrderCreated,
		Limit:      tickets.DefaultLimit,
	}
	n := 0
	for {
		page, err := a.Store.List(ctx, q)
		if err != nil {
			return fmt.Errorf("app: seed index: %w", err)
		}
		for _, t := range page {
			if err := a.Index.Index(ctx, t); err != nil {
				return fmt.Errorf("app: seed index %s: %w", t.ID, err)
			}
		}
		n += len(page)
		if len(page) < q.Limit {
			break
		}
		q.Offset += len(page)
	}
	if n > 0 {
		a.Log.Info("seeded vector index from store", "tickets", n)
	}
	return nil
}

func (a *App) openEmbedder(p embed.Provider) (*embed.Client, error) {
	cfg := a.Config.Embedding
	if p != nil {
		return embed.New("custom", p, cfg.Dims), nil
	}
	switch cfg.Provider {
	case "ollama":
		return embed.New("ollama", ollama.NewEmbedClient(cfg.URL, cfg.Model), cfg.Dims), nil
	case "openai":
		return embed.New("openai", embed.NewOpenAI(cfg.URL, cfg.APIKey, cfg.Model), cfg.Dims), nil
	}
	return nil, fmt.Errorf("app: unknown embedding provider %q", cfg.Provider)
}

func (a *App) openClassifier() (classify.Classifier, error) {
	cfg := a.Config.Classifier
	var next classify.Classifier
	switch cfg.Provider {
	case "openrouter":
		next = classify.NewOpenRouter(cfg.URL, cfg.APIKey, cfg.Model)
	case "anthropic":
		next = classify.NewAnthropic(cfg.APIKey, cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("app: unknown classifier provider %q", cfg.Provider)
	}
	bo := classify.BreakerOpts()
	if cfg.BreakerThreshold > 0 {
		bo.FailThreshold = cfg.BreakerThreshold
	}
	if cfg.BreakerCooldown > 0 {
		bo.Timeout = cfg.BreakerCooldown
	}
	return classify.NewGuarded(next,
		resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSec, Burst: cfg.Burst}),
		resilience.NewBreaker(bo),
	), nil
}

func (a *App) openEvents() (events.Publisher, error) {
	cfg := a.Config.Events
	switch cfg.Backend {
	case "", "none":
		return events.Nop{}, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("helpdesk-ingest"))
		if err != nil {
			return nil, fmt.Errorf("app: nats connect: %w", err)
		}
		a.NATS = nc
		a.Log.Info("connected to NATS", "url", cfg.NATSURL)
		return events.NewNATS(nc), nil
	case "kafka":
		a.Log.Info("publishing to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.OutcomeTopic)
		return events.NewKafka(cfg.KafkaBrokers, cfg.OutcomeTopic, cfg.DLQTopic), nil
	}
	return nil, fmt.Errorf("app: unknown events backend %q", cfg.Backend)
}

func (a *App) openMailbox(ctx context.Context) (mail.Mailbox, error) {
	cfg := a.Config.Mail
	switch cfg.Provider {
	case "gmail":
		g, err := mail.NewGmail(ctx, mail.GmailConfig{
			CredentialsFile: cfg.CredentialsFile,
			TokenFile:       cfg.TokenFile,
			User:            cfg.User,
		})
		if err != nil {
			return nil, fmt.Errorf("app: gmail: %w", err)
		}
		return g, nil
	case "memory":
		a.Log.Warn("using in-memory mailbox; no mail will arrive")
		return mail.NewMemory(), nil
	}
	return nil, fmt.Errorf("app: unknown mail provider %q", cfg.Provider)
}
