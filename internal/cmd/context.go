package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/config"
	"github.com/jmgilman/periscope/internal/instance"
)

type contextKey string

const (
	configKey   contextKey = "config"
	loaderKey   contextKey = "loader"
	managerKey  contextKey = "manager"
	reaperKey   contextKey = "reaper"
	catalogKey  contextKey = "catalog"
	registryKey contextKey = "registry"
)

// WithConfig adds the config to the context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// ConfigFromContext retrieves the config from context.
func ConfigFromContext(ctx context.Context) *config.Config {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok {
		return nil
	}
	return cfg
}

// WithLoader adds the config loader to the context.
func WithLoader(ctx context.Context, loader *config.Loader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// LoaderFromContext retrieves the config loader from context.
func LoaderFromContext(ctx context.Context) *config.Loader {
	loader, ok := ctx.Value(loaderKey).(*config.Loader)
	if !ok {
		return nil
	}
	return loader
}

// WithManager adds the instance manager to the context.
func WithManager(ctx context.Context, mgr *instance.Manager) context.Context {
	return context.WithValue(ctx, managerKey, mgr)
}

// ManagerFromContext retrieves the instance manager from context.
func ManagerFromContext(ctx context.Context) *instance.Manager {
	mgr, ok := ctx.Value(managerKey).(*instance.Manager)
	if !ok {
		return nil
	}
	return mgr
}

// WithReaper adds the orphan reaper to the context.
func WithReaper(ctx context.Context, r *instance.Reaper) context.Context {
	return context.WithValue(ctx, reaperKey, r)
}

// ReaperFromContext retrieves the orphan reaper from context.
func ReaperFromContext(ctx context.Context) *instance.Reaper {
	r, ok := ctx.Value(reaperKey).(*instance.Reaper)
	if !ok {
		return nil
	}
	return r
}

// WithCatalog adds the instance catalog to the context.
func WithCatalog(ctx context.Context, store catalog.Store) context.Context {
	return context.WithValue(ctx, catalogKey, store)
}

// CatalogFromContext retrieves the instance catalog from context.
func CatalogFromContext(ctx context.Context) catalog.Store {
	store, ok := ctx.Value(catalogKey).(catalog.Store)
	if !ok {
		return nil
	}
	return store
}

// WithRegistry adds the metrics registry to the context.
func WithRegistry(ctx context.Context, reg *prometheus.Registry) context.Context {
	return context.WithValue(ctx, registryKey, reg)
}

// RegistryFromContext retrieves the metrics registry from context.
func RegistryFromContext(ctx context.Context) *prometheus.Registry {
	reg, ok := ctx.Value(registryKey).(*prometheus.Registry)
	if !ok {
		return nil
	}
	return reg
}
