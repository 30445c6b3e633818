// Package reconcile implementa el bucle de conciliación: re-consulta periódicamente los documentos
// que quedaron en SUBMITTED y los lleva a un estado terminal a través del orquestador.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

// Valores por defecto.
const (
	DefaultInterval       = time.Minute
	DefaultMinAge         = 2 * time.Minute
	DefaultMaxAge         = 72 * time.Hour
	DefaultMaxAttempts    = 20
	DefaultInitialBackoff = time.Minute
	DefaultMaxBackoff     = time.Hour
	DefaultConcurrency    = 4
	DefaultBatchSize      = 200
)

// Poller operaciones del orquestador que usa el bucle.
type Poller interface {
	Poll(ctx context.Context, documentID string) (*entity.FiscalDocument, error)
	Expire(ctx context.Context, documentID, reason string) (*entity.FiscalDocument, error)
}

// Config parámetros del bucle.
type Config struct {
	Interval       time.Duration // periodo entre barridos
	MinAge         time.Duration // nunca consultar documentos más recientes
	MaxAge         time.Duration // edad máxima desde el envío; 0 = sin tope por edad
	MaxAttempts    int           // tope de consultas por documento
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Concurrency    int // consultas simultáneas por barrido
	BatchSize      int // documentos por barrido
	Clock          clockwork.Clock
	Logger         zerolog.Logger
}

// Backoff intervalo exponencial entre consultas: Initial·2^(attempt−1), con tope Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NextDelay espera tras attempt consultas.
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Stats resultado de un barrido.
type Stats struct {
	Listed  int
	Polled  int
	Expired int
	Skipped int // aún en backoff, o ya movidos por otra operación
	Failed  int
}

// Reconciler bucle de conciliación.
type Reconciler struct {
	docs    repository.DocumentRepository
	poller  Poller
	cfg     Config
	backoff Backoff
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New construye el bucle aplicando valores por defecto.
func New(docs repository.DocumentRepository, poller Poller, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = DefaultMinAge
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		docs:    docs,
		poller:  poller,
		cfg:     cfg,
		backoff: Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		clock:   cfg.Clock,
		logger:  cfg.Logger.With().Str("component", "reconcile").Logger(),
	}
}

// Start programa los barridos (@every Interval) hasta que ctx termine o se llame Stop.
// Los barridos nunca se solapan.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reconcile: ya iniciado")
	}

	cronLog := cron.PrintfLogger(&r.logger)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	spec := "@every " + r.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("barrido de conciliación fallido")
		}
	}); err != nil {
		return fmt.Errorf("reconcile: programar %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info().Dur("interval", r.cfg.Interval).Dur("min_age", r.cfg.MinAge).
		Int("max_attempts", r.cfg.MaxAttempts).Msg("conciliación iniciada")

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop detiene la programación y espera el barrido en curso.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// action decisión del barrido para un documento.
type action int

const (
	actionSkip action = iota
	actionPoll
	actionExpire
)

// decide aplica edad mínima, tope de intentos/edad y backoff.
func (r *Reconciler) decide(doc *entity.FiscalDocument, now time.Time) (action, string) {
	if doc.SubmittedAt == nil {
		return actionPoll, ""
	}
	age := now.Sub(*doc.SubmittedAt)
	if age < r.cfg.MinAge {
		return actionSkip, ""
	}
	if doc.PollAttempts >= r.cfg.MaxAttempts {
		return actionExpire, fmt.Sprintf("sin resultado de la autoridad tras %d consultas", doc.PollAttempts)
	}
	if r.cfg.MaxAge > 0 && age >= r.cfg.MaxAge {
		return actionExpire, fmt.Sprintf("sin resultado de la autoridad tras %s desde el envío", r.cfg.MaxAge)
	}
	if doc.PollAttempts > 0 && doc.LastPolledAt != nil {
		if now.Before(doc.LastPolledAt.Add(r.backoff.NextDelay(doc.PollAttempts))) {
			return actionSkip, ""
		}
	}
	return actionPoll, ""
}

// Sweep ejecuta un barrido completo. Los fallos por documento se registran y no abortan el barrido.
func (r *Reconciler) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	now := r.clock.Now().UTC()
	docs, err := r.docs.ListSubmitted(ctx, now.Add(-r.cfg.MinAge), r.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("reconcile: listar documentos enviados: %w", err)
	}
	stats.Listed = len(docs)

	var mu sync.Mutex
	count := func(f func(*Stats)) {
		mu.Lock()
		f(&stats)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for _, doc := range docs {
		act, reason := r.decide(doc, now)
		if act == actionSkip {
			count(func(s *Stats) { s.Skipped++ })
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := r.logger.With().Str("document_id", doc.ID).Str("tenant_id", doc.TenantID).
				Str("provider", doc.Provider).Int("attempts", doc.PollAttempts).Logger()

			var err error
			if act == actionExpire {
				_, err = r.poller.Expire(ctx, doc.ID, reason)
			} else {
				_, err = r.poller.Poll(ctx, doc.ID)
			}

			var stale *domain.StaleStateError
			switch {
			case errors.As(err, &stale):
				count(func(s *Stats) { s.Skipped++ })
			case err != nil && act == actionPoll && domain.KindOf(err) == domain.KindAuthorityRejected:
				// El rechazo ya quedó registrado en el documento.
				count(func(s *Stats) { s.Polled++ })
			case err != nil:
				log.Warn().Err(err).Msg("conciliación del documento fallida")
				count(func(s *Stats) { s.Failed++ })
			case act == actionExpire:
				log.Warn().Str("reason", reason).Msg("documento vencido en conciliación")
				count(func(s *Stats) { s.Expired++ })
			default:
				count(func(s *Stats) { s.Polled++ })
			}
			return nil
		})
	}
	_ = g.Wait()

	if stats.Listed > 0 {
		r.logger.Info().Int("listed", stats.Listed).Int("polled", stats.Polled).Int("expired", stats.Expired).
			Int("skipped", stats.Skipped).Int("failed", stats.Failed).Msg("barrido de conciliación")
	}
	return stats, ctx.Err()
}
