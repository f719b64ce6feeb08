//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"github.com/einvoice-tools/registry-workbench/internal/config"
)

func Initialize(ctx context.Context) (*App, func(), error) {
	wire.Build(
		config.Load,
		provideLogging,
		provideLogger,
		provideRuntime,
		provideCredStore,
		provideSessionManager,
		provideRegistryClient,
		provideDraftRepository,
		New,
	)
	return nil, nil, nil
}
