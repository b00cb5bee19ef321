package app

import (
	"context"

	"mlbot/internal/config"
)

func provideAppBuilder(cfg *config.Config, opts Options) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}

func provideAppFromBuilder(ctx context.Context, b *AppBuilder) (*App, error) {
	return b.Build(ctx)
}
