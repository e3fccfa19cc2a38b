package marketauth

import (
	"context"
	"fmt"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-marketauth/core"
	"github.com/goliatone/go-marketauth/retry"
)

// Service is the assembled authentication subsystem: state-token handshake,
// credential vault, request signing, and coordinated token refresh behind a
// retry-aware invoker.
type Service struct {
	config      core.Config
	logger      core.Logger
	stateTokens *core.StateTokenIssuer
	vault       *core.CredentialVault
	refresher   *core.TokenRefreshCoordinator
	executor    *retry.Executor
}

type Option func(*serviceOptions)

type serviceOptions struct {
	config         *core.Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	persistence    core.CredentialPersistence
	cacheService   repositorycache.CacheService
	secrets        core.SecretSource
	endpoint       core.TokenEndpointCaller
	httpClient     *http.Client
}

func WithConfig(cfg core.Config) Option {
	return func(o *serviceOptions) {
		o.config = &cfg
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *serviceOptions) {
		o.loggerProvider = provider
	}
}

// WithPersistence sets the credential storage collaborator, typically the
// sqlstore credential store.
func WithPersistence(persistence core.CredentialPersistence) Option {
	return func(o *serviceOptions) {
		o.persistence = persistence
	}
}

func WithCacheService(cacheService repositorycache.CacheService) Option {
	return func(o *serviceOptions) {
		o.cacheService = cacheService
	}
}

// WithSigningSecret sets the state-token signing secret source.
func WithSigningSecret(secrets core.SecretSource) Option {
	return func(o *serviceOptions) {
		o.secrets = secrets
	}
}

func WithTokenEndpointCaller(endpoint core.TokenEndpointCaller) Option {
	return func(o *serviceOptions) {
		o.endpoint = endpoint
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *serviceOptions) {
		o.httpClient = client
	}
}

func New(opts ...Option) (*Service, error) {
	cfg := serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.persistence == nil {
		return nil, fmt.Errorf("marketauth: credential persistence is required")
	}
	if cfg.secrets == nil {
		return nil, fmt.Errorf("marketauth: signing secret source is required")
	}

	config := core.DefaultConfig()
	if cfg.config != nil {
		config = *cfg.config
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	_, logger := glog.Resolve(config.ServiceName, cfg.loggerProvider, cfg.logger)

	cacheService := cfg.cacheService
	if cacheService == nil {
		cacheConfig := repositorycache.DefaultConfig()
		built, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("marketauth: build cache service: %w", err)
		}
		cacheService = built
	}

	vault, err := core.NewCredentialVault(cfg.persistence, cacheService, config, logger)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.endpoint
	if endpoint == nil {
		endpoint = core.NewHTTPTokenEndpointCaller(cfg.httpClient)
	}
	executor := retry.NewExecutor(config, logger)
	refresher, err := core.NewTokenRefreshCoordinator(vault, endpoint, executor, config, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:      config,
		logger:      logger,
		stateTokens: core.NewStateTokenIssuer(cfg.secrets, config.StateTokenTTL()),
		vault:       vault,
		refresher:   refresher,
		executor:    executor,
	}, nil
}

func (s *Service) StateTokens() *core.StateTokenIssuer {
	if s == nil {
		return nil
	}
	return s.stateTokens
}

func (s *Service) Vault() *core.CredentialVault {
	if s == nil {
		return nil
	}
	return s.vault
}

func (s *Service) Refresher() *core.TokenRefreshCoordinator {
	if s == nil {
		return nil
	}
	return s.refresher
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

// SignRequest resolves a fresh credential and signs the outbound request with
// the marketplace's configured scheme.
func (s *Service) SignRequest(
	ctx context.Context,
	req *http.Request,
	userID int64,
	marketplaceID string,
	environment core.Environment,
) error {
	if s == nil {
		return fmt.Errorf("marketauth: service is nil")
	}
	marketplaceCfg, ok := s.config.Marketplace(marketplaceID)
	if !ok {
		return core.MapError(fmt.Errorf("marketauth: marketplace %q is not configured", marketplaceID))
	}
	resolved, err := s.refresher.EnsureFresh(ctx, userID, marketplaceID, environment)
	if err != nil {
		return err
	}
	if !resolved.Usable() {
		return core.MapError(fmt.Errorf(
			"marketauth: credential for marketplace %q is missing required fields", marketplaceID,
		))
	}
	if err := core.SignerFor(marketplaceCfg).Sign(ctx, req, resolved.Credential); err != nil {
		return core.MapError(err)
	}
	return nil
}

// Invoke runs an operation under the marketplace's retry policy.
func (s *Service) Invoke(
	ctx context.Context,
	marketplaceID string,
	op func(context.Context) error,
) error {
	if s == nil {
		return fmt.Errorf("marketauth: service is nil")
	}
	return s.executor.Execute(ctx, marketplaceID, op)
}
