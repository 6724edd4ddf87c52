package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/i474232898/hydro-data-aggregation/internal/catalog"
	"github.com/i474232898/hydro-data-aggregation/internal/config"
	"github.com/i474232898/hydro-data-aggregation/internal/credentials"
	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
	"github.com/i474232898/hydro-data-aggregation/internal/hydro/sources"
	"github.com/i474232898/hydro-data-aggregation/internal/logger"
	"github.com/i474232898/hydro-data-aggregation/internal/queryregistry"
	"github.com/i474232898/hydro-data-aggregation/internal/quicklook"
)

// app holds the components shared by the serve and query commands.
type app struct {
	cfg        *config.AppConfig
	user       config.UserConfig
	catalog    *catalog.Catalog
	quickLooks *quicklook.Store
	service    *hydro.Service
	logger     zerolog.Logger

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
	credentials.Purge()
}

// newApp loads configuration and builds the adapters and orchestrator.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	user, err := config.LoadUserConfig(cfg.Paths.UserConfig)
	if err != nil {
		return nil, err
	}
	if user.DebugMode {
		logger.Setup("debug", cfg.Log.Format)
	}
	log := logger.Get("main")

	cat, err := catalog.Load(cfg.Paths.Catalog, logger.Get("catalog"))
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Paths.Catalog).Int("entries", cat.Len()).Msg("Catalog loaded")

	a := &app{
		cfg:        cfg,
		user:       user,
		catalog:    cat,
		quickLooks: quicklook.NewStore(cfg.Paths.QuickLooks, logger.Get("quicklook")),
		logger:     log,
	}

	// Shared HTTP client for the public sources.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	srcLog := logger.Get("sources")
	adapters := map[hydro.Family]hydro.Adapter{
		hydro.FamilyUSBR: sources.NewUSBRProvider(httpClient, cfg.USBR.BaseURL, user.PeriodOffsetEnabled(), srcLog),
		hydro.FamilyUSGS: sources.NewUSGSProvider(httpClient, cfg.USGS.BaseURL, srcLog),
	}

	keystore := credentials.NewEnvKeystore()
	if cfg.Aquarius.BaseURL != "" {
		aq, err := sources.NewAquariusProvider(sources.AquariusConfig{
			BaseURL:    cfg.Aquarius.BaseURL,
			Username:   cfg.Aquarius.Username,
			CAFile:     cfg.Aquarius.CAFile,
			UTCOffset:  user.UTCOffset,
			QueryLimit: cfg.Aquarius.QueryLimit,
			MaxThreads: cfg.Aquarius.MaxThreads,
			TokenTTL:   cfg.Aquarius.TokenTTL,
			Timeout:    cfg.HTTPTimeout,
		}, keystore, srcLog)
		if err != nil {
			return nil, err
		}
		adapters[hydro.FamilyAquarius] = aq
	}

	registry := queryregistry.New(cfg.Query.HistorySize, logger.Get("registry"))
	a.service = hydro.NewService(adapters, cat, registry, hydro.Options{
		MaxDBThreads: cfg.Query.MaxDBThreads,
		Timeout:      cfg.Query.Timeout,
		QAQC:         user.QAQC,
		RawData:      user.RawData,
	}, logger.Get("hydro"))

	if cfg.SQL.Enabled() {
		warehouse, err := sources.OpenSQLProvider(ctx, sources.SQLConfig{
			Driver:       cfg.SQL.Driver,
			Placeholder:  sources.PlaceholderStyle(cfg.SQL.Placeholder),
			MaxOpenConns: cfg.SQL.MaxOpenConns,
			PeriodOffset: user.PeriodOffsetEnabled(),
		}, keystore, srcLog)
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			log.Warn().Str("env", keystore.EnvName(credentials.WarehouseDSN)).Msg("Warehouse DSN not set; USBR stays on HTTP")
		case err != nil:
			log.Warn().Err(err).Msg("Warehouse unavailable; USBR stays on HTTP")
		default:
			a.service.UseSQL(warehouse)
			a.closers = append(a.closers, warehouse.Close)
		}
	}

	return a, nil
}
