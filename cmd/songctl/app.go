package main

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shattavibe/api/internal/auth"
	"github.com/shattavibe/api/internal/client"
	"github.com/shattavibe/api/internal/config"
	"github.com/shattavibe/api/internal/drafts"
	"github.com/shattavibe/api/internal/generation"
	"github.com/shattavibe/api/internal/identity"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/poller"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/internal/store"
)

// app wires the client-side components over one data directory.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	fs          afero.Fs
	verifier    auth.TokenVerifier
	devices     *identity.DeviceStore
	sessions    *identity.SessionProvider
	resolver    *identity.Resolver
	db          *gorm.DB
	records     *store.RecordStore
	drafts      *drafts.Store
	quota       *service.QuotaTracker
	submissions *service.SubmissionService
	library     *service.LibraryService
	vendor      *client.SunoClient
}

func newApp(cfg *config.Config, fs afero.Fs, logger *zap.Logger) *app {
	verifier := auth.NewVerifier(cfg, logger)
	devices := identity.NewDeviceStore(fs, cfg.Client.DataDir, logger.Named("device"))
	sessions := identity.NewSessionProvider(fs, cfg.Client.DataDir, verifier)

	return &app{
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		verifier: verifier,
		devices:  devices,
		sessions: sessions,
		resolver: identity.NewResolver(sessions, devices, logger.Named("identity")),
		drafts:   drafts.NewStore(fs, cfg.Client.DataDir),
		vendor:   client.NewSunoClient(&cfg.Suno, logger.Named("suno")),
	}
}

// openRecords connects the Record Store and the services reading it. Commands
// that only touch local files never call it.
func (a *app) openRecords() error {
	if a.records != nil {
		return nil
	}
	db, err := store.Open(a.cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	a.db = db
	a.records = store.NewRecordStore(db)
	a.quota = service.NewQuotaTracker(a.records, a.cfg.Generation.FreeLimit, a.logger.Named("quota"),
		service.WithDraftFallback(a.drafts),
	)
	a.library = service.NewLibraryService(a.records, a.drafts, a.logger.Named("library"))
	a.submissions = service.NewSubmissionService(a.resolver, a.vendor, a.records, a.quota,
		service.WithDrafts(a.drafts),
		service.WithDefaultModel(model.SunoModel(a.cfg.Suno.Model)),
		service.WithPromptMaxLength(a.cfg.Generation.PromptMaxLength),
		service.WithSubmissionLogger(a.logger.Named("submit")),
	)
	return nil
}

func (a *app) controller() *generation.Controller {
	return generation.New(a.resolver, a.submissions, a.records, a.quota,
		generation.WithLibrary(a.library),
		generation.WithDrafts(a.drafts),
		generation.WithLogger(a.logger.Named("generation")),
		generation.WithEngineOptions(
			poller.WithInterval(a.cfg.Generation.PollInterval),
			poller.WithMaxDuration(a.cfg.Generation.MaxPollDuration),
		),
	)
}

func (a *app) Close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.verifier.Close()
}
