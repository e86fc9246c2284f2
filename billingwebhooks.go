// Package billingwebhooks assembles the webhook ingestion pipeline: signature
// verification, idempotency tracking, event dispatch with bounded retries,
// and audit emission.
package billingwebhooks

import (
	"context"
	"fmt"
	"net/http"

	gologger "github.com/goliatone/go-billing-webhooks/adapters/gologger"
	"github.com/goliatone/go-billing-webhooks/audit"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/dispatch"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/reconcile"
	"github.com/goliatone/go-billing-webhooks/signature"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

type Config = core.Config

type RetryConfig = core.RetryConfig

type IdempotencyConfig = core.IdempotencyConfig

type AuditConfig = core.AuditConfig

type Event = core.Event

type AuditEntry = core.AuditEntry

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*Service)

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *Service) {
		s.loggerProvider = provider
	}
}

func WithSecretProvider(secrets signature.SecretProvider) Option {
	return func(s *Service) {
		s.secrets = secrets
	}
}

func WithIdempotencyStore(store idempotency.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithAuditSink(sink core.AuditSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithPersistenceClient enables the bundled reconciliation handlers against
// the given record store.
func WithPersistenceClient(client core.PersistenceClient) Option {
	return func(s *Service) {
		s.persistence = client
	}
}

func WithRetryCounter(retries reconcile.RetryCounter) Option {
	return func(s *Service) {
		s.retries = retries
	}
}

// WithRetryEnqueuer switches transient-failure handling to durable deferred
// retries driven from a queue instead of in-process backoff waits.
func WithRetryEnqueuer(enqueuer core.RetryEnqueuer) Option {
	return func(s *Service) {
		s.enqueuer = enqueuer
	}
}

// WithHandler registers an additional reconciliation handler on top of the
// bundled set.
func WithHandler(handlers ...dispatch.Handler) Option {
	return func(s *Service) {
		s.handlers = append(s.handlers, handlers...)
	}
}

// WithAlias routes an alternate event type spelling to a registered one.
func WithAlias(alias string, eventType string) Option {
	return func(s *Service) {
		if s.aliases == nil {
			s.aliases = map[string]string{}
		}
		s.aliases[alias] = eventType
	}
}

// Service owns the assembled pipeline and its background workers: the audit
// emitter and the idempotency sweeper. Close releases both.
type Service struct {
	config         Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	secrets        signature.SecretProvider
	store          idempotency.Store
	sink           core.AuditSink
	persistence    core.PersistenceClient
	retries        reconcile.RetryCounter
	enqueuer       core.RetryEnqueuer
	handlers       []dispatch.Handler
	aliases        map[string]string

	emitter    *audit.Emitter
	sweeper    *idempotency.Sweeper
	dispatcher *dispatch.Dispatcher
	processor  *webhooks.Processor
}

// New builds a Service from cfg layered over DefaultConfig.
func New(cfg Config, opts ...Option) (*Service, error) {
	resolved, err := (core.GoOptionsResolver{}).Resolve(core.DefaultConfig(), core.Config{}, cfg)
	if err != nil {
		return nil, err
	}

	svc := &Service{config: resolved}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(svc)
	}

	svc.loggerProvider, svc.logger = gologger.Resolve(resolved.ServiceName, svc.loggerProvider, svc.logger)

	if svc.secrets == nil {
		if resolved.Secret == "" {
			return nil, fmt.Errorf("billingwebhooks: a secret or secret provider is required")
		}
		svc.secrets = signature.StaticSecretProvider{Secret: resolved.Secret}
	}
	verifier := signature.NewVerifier(svc.secrets)
	verifier.Header = resolved.SignatureHeader

	if svc.store == nil {
		svc.store = idempotency.NewInMemoryStore(resolved.Idempotency.TTL)
	}
	if svc.sink == nil {
		svc.sink = audit.LoggerSink{Logger: svc.logger}
	}

	emitter, err := audit.NewEmitter(svc.sink, svc.logger, resolved.Audit.BufferSize)
	if err != nil {
		return nil, err
	}
	svc.emitter = emitter

	dispatcher := dispatch.NewDispatcher(emitter)
	dispatcher.Logger = svc.logger
	if svc.persistence != nil {
		if err := reconcile.RegisterDefaultHandlers(dispatcher, svc.persistence, svc.retries); err != nil {
			emitter.Close()
			return nil, err
		}
	}
	for _, handler := range svc.handlers {
		if err := dispatcher.Register(handler); err != nil {
			emitter.Close()
			return nil, err
		}
	}
	for alias, eventType := range svc.aliases {
		if err := dispatcher.Alias(alias, eventType); err != nil {
			emitter.Close()
			return nil, err
		}
	}
	svc.dispatcher = dispatcher

	processor := webhooks.NewProcessor(verifier, svc.store, dispatcher, resolved.Retry)
	processor.Auditor = emitter
	processor.Logger = svc.logger
	processor.Enqueuer = svc.enqueuer
	svc.processor = processor

	sweeper, err := idempotency.NewSweeper(svc.store, resolved.Idempotency.SweepInterval, svc.logger)
	if err != nil {
		emitter.Close()
		return nil, err
	}
	svc.sweeper = sweeper

	return svc, nil
}

// Setup loads configuration through the provider, then builds the Service.
func Setup(ctx context.Context, provider core.ConfigProvider, opts ...Option) (*Service, error) {
	cfg := core.DefaultConfig()
	if provider != nil {
		loaded, err := provider.Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return New(cfg, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() core.Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) Processor() *webhooks.Processor {
	if s == nil {
		return nil
	}
	return s.processor
}

func (s *Service) Dispatcher() *dispatch.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) IdempotencyStore() idempotency.Store {
	if s == nil {
		return nil
	}
	return s.store
}

// Process handles one raw delivery end to end.
func (s *Service) Process(ctx context.Context, rawBody []byte, signatureHeader string) (webhooks.Result, error) {
	if s == nil || s.processor == nil {
		return webhooks.Result{StatusCode: http.StatusInternalServerError},
			fmt.Errorf("billingwebhooks: service is not initialized")
	}
	return s.processor.Process(ctx, rawBody, signatureHeader)
}

// ProcessTask re-enters the pipeline for a queued retry.
func (s *Service) ProcessTask(ctx context.Context, task core.RetryTask) error {
	if s == nil || s.processor == nil {
		return fmt.Errorf("billingwebhooks: service is not initialized")
	}
	return s.processor.ProcessTask(ctx, task)
}

// Handler returns the HTTP endpoint for inbound deliveries.
func (s *Service) Handler() http.Handler {
	if s == nil || s.processor == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "service is not initialized", http.StatusInternalServerError)
		})
	}
	return s.processor.Handler()
}

// Close stops the sweeper and drains the audit emitter.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.sweeper != nil {
		s.sweeper.Close()
	}
	if s.emitter != nil {
		s.emitter.Close()
	}
}
