package sheets

import (
	"context"
	"fmt"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/sellersync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ProviderFactory builds the document provider from configuration
type ProviderFactory struct {
	cfg                 config.SheetsConfig
	logger              *zap.Logger
	allowMemoryFallback bool
	extraOptions        []option.ClientOption
}

// ProviderFactoryOption configures the factory
type ProviderFactoryOption func(*ProviderFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) ProviderFactoryOption {
	return func(f *ProviderFactory) {
		f.logger = logger
	}
}

// WithMemoryFallback controls whether missing credentials degrade to the
// in-memory provider. Default is true.
func WithMemoryFallback(allow bool) ProviderFactoryOption {
	return func(f *ProviderFactory) {
		f.allowMemoryFallback = allow
	}
}

// WithClientOptions adds Sheets client options (endpoint, http client)
func WithClientOptions(opts ...option.ClientOption) ProviderFactoryOption {
	return func(f *ProviderFactory) {
		f.extraOptions = append(f.extraOptions, opts...)
	}
}

// NewProviderFactory creates a factory
func NewProviderFactory(cfg config.SheetsConfig, opts ...ProviderFactoryOption) *ProviderFactory {
	f := &ProviderFactory{
		cfg:                 cfg,
		logger:              zap.NewNop(),
		allowMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns the configured provider
func (f *ProviderFactory) Create(ctx context.Context) (integration.DocumentProvider, error) {
	if f.cfg.Driver == "memory" {
		f.logger.Info("using in-memory document provider")
		return NewFallbackProvider(), nil
	}

	var opts []option.ClientOption
	switch {
	case f.cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(f.cfg.CredentialsJSON)))
	case f.cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(f.cfg.CredentialsFile))
	case len(f.extraOptions) == 0:
		return f.fallback(fmt.Errorf("no sheets credentials configured"))
	}
	opts = append(opts, f.extraOptions...)

	provider, err := NewGoogleProvider(ctx, opts...)
	if err != nil {
		return f.fallback(err)
	}
	f.logger.Info("using Google Sheets document provider")
	return provider, nil
}

func (f *ProviderFactory) fallback(cause error) (integration.DocumentProvider, error) {
	if !f.allowMemoryFallback {
		return nil, fmt.Errorf("google sheets required but unavailable: %w", cause)
	}
	f.logger.Warn("Google Sheets unavailable, falling back to in-memory documents; "+
		"external data will not persist across restarts",
		zap.Error(cause),
	)
	return NewFallbackProvider(), nil
}
