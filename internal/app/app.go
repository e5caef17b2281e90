package app

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"jt-go/internal/collector"
	"jt-go/internal/config"
	"jt-go/internal/docstore"
	"jt-go/internal/docstore/migrations"
	"jt-go/internal/encryption"
	"jt-go/internal/entity"
	"jt-go/internal/handoff"
	"jt-go/internal/hottier"
	"jt-go/internal/journal"
	"jt-go/internal/jt"
	"jt-go/internal/pipeline"
	"jt-go/internal/scoring"
)

// JTApp is the application layer between the CLI and the core packages.
// It constructs all dependencies from config, exposes high-level operations
// and manages the store lifecycle on Close.
type JTApp struct {
	cfg       *config.Config
	docs      jt.DocumentStore
	router    *journal.Router
	collector *collector.Collector
	resolver  *entity.Resolver
	hot       *hottier.Store
	runner    *pipeline.Runner
	clock     jt.Clock
	logger    jt.Logger
	op        *Operation
	logFile   *os.File
}

// NewJTApp creates a fully wired JTApp from the given config.
// operation identifies the CLI command being run (e.g. "Collect", "Expire").
// The caller must call Close when done.
func NewJTApp(ctx context.Context, cfg *config.Config, operation string) (*JTApp, error) {
	if cfg.HostID == "" {
		return nil, fmt.Errorf("host_id is not set; run `jt config init`")
	}
	clock := jt.RealClock{}
	ids := jt.UUIDGenerator{}

	logID := clock.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, logID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	a, err := wire(ctx, cfg, clock, ids, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = NewOperation(ids.New(), logID, operation, "", clock.Now())
	a.logFile = logFile
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, clock jt.Clock, ids jt.IDGenerator, logger jt.Logger) (*JTApp, error) {
	router, err := journal.NewRouterFromConfig(cfg.Volumes)
	if err != nil {
		return nil, fmt.Errorf("creating journal sources: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if cfg.Handoff.Encrypt && enc != nil && !enc.HasKeys() {
		logger.Warn("hand-off encryption enabled but no keys found; run `jt handoff keygen`")
	}
	sink, err := handoff.NewSinkFromConfig(ctx, cfg.Handoff, enc)
	if err != nil {
		return nil, fmt.Errorf("creating hand-off sink: %w", err)
	}

	docs, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	col, err := collector.New(router, collector.NewCursorStore(docs, clock), collector.Options{
		BatchSize: cfg.Collector.BatchSize,
		Ignore:    cfg.Collector.Ignore,
	}, logger)
	if err != nil {
		docs.Close()
		return nil, fmt.Errorf("creating collector: %w", err)
	}

	rootRefs := make(map[string]uint64)
	for _, v := range cfg.Volumes {
		if v.RootReference != 0 {
			rootRefs[v.Name] = v.RootReference
		}
	}
	resolver := entity.NewResolver(docs, clock, ids, logger, entity.Options{
		RootRefs:  rootRefs,
		CacheSize: cfg.HotTier.EntityCacheSize,
	})

	ht := cfg.HotTier
	hot := hottier.New(docs, resolver, scoring.New(cfg.Scoring.DocumentExtensions, cfg.Scoring.SignificantDirs), clock, logger, hottier.Options{
		Retention: ht.Retention.Std(),
		Retry: hottier.RetryPolicy{
			Attempts:  ht.RetryAttempts,
			BaseDelay: ht.RetryBaseDelay.Std(),
			MaxDelay:  ht.RetryMaxDelay.Std(),
		},
		Sink:   sink,
		HostID: cfg.HostID,
		IDs:    ids,
	})

	leases := collector.NewFileLeases(cfg.Collector.LeaseDir, collector.OwnerName(cfg.HostID, ids.New()),
		cfg.Collector.LeaseStaleAfter.Std(), clock, logger)

	runner := pipeline.NewRunner(col, hot, leases, docs, clock, ids, logger, pipeline.Options{
		HostID:      cfg.HostID,
		MaxBatches:  cfg.Collector.MaxBatches,
		Parallelism: cfg.Collector.Parallelism,
	})

	return &JTApp{
		cfg:       cfg,
		docs:      docs,
		router:    router,
		collector: col,
		resolver:  resolver,
		hot:       hot,
		runner:    runner,
		clock:     clock,
		logger:    logger,
	}, nil
}

// openStore opens the configured store. A database that was never migrated
// is migrated in place; one at an older version is refused.
func openStore(cfg *config.Config, logger jt.Logger) (jt.DocumentStore, error) {
	docs, err := docstore.NewStoreFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}
	m, ok := docs.(docstore.Migrator)
	if !ok {
		return docs, nil
	}

	st, err := m.SchemaStatus()
	if err != nil {
		docs.Close()
		return nil, err
	}
	if st.Version == 0 && !st.Dirty {
		logger.Info("initializing database schema", "version", st.Latest)
		if err := m.Migrate(); err != nil {
			docs.Close()
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return docs, nil
	}
	if err := m.CheckMigrations(); err != nil {
		docs.Close()
		return nil, fmt.Errorf("database schema out of date (run `jt db migrate`): %w", err)
	}
	return docs, nil
}

// persistOperation saves the operation to the store.
// This should only be called for store-mutating commands.
func (a *JTApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	return a.op.persist(ctx, a.docs)
}

// track records err on the operation and returns it unchanged.
func (a *JTApp) track(err error) error {
	a.op.Fail(err)
	return err
}

// Volumes returns the configured volume names, sorted.
func (a *JTApp) Volumes() []string {
	return a.router.Volumes()
}

func (a *JTApp) selectVolumes(names []string) ([]string, error) {
	if len(names) == 0 {
		return a.router.Volumes(), nil
	}
	for _, n := range names {
		if _, ok := a.router.Source(n); !ok {
			return nil, fmt.Errorf("volume %s is not configured", n)
		}
	}
	return names, nil
}

// Collect runs one collection pass over the named volumes, or every
// configured volume when names is empty.
func (a *JTApp) Collect(ctx context.Context, names []string) (*pipeline.RunReport, error) {
	volumes, err := a.selectVolumes(names)
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		return nil, fmt.Errorf("no volumes configured")
	}
	if err := a.persistOperation(ctx, strings.Join(volumes, ",")); err != nil {
		return nil, err
	}
	report, err := a.runner.Run(ctx, volumes)
	if err == nil && report.Status() != pipeline.StatusSuccess {
		a.op.Fail(fmt.Errorf("run %s finished with status %s", report.RunID, report.Status()))
	}
	return report, a.track(err)
}

// Watch collects continuously until ctx ends, expiring the hot tier after
// every run. Dump volumes are also collected when their files change.
func (a *JTApp) Watch(ctx context.Context, onRun func(*pipeline.RunReport)) error {
	volumes := a.router.Volumes()
	if len(volumes) == 0 {
		return fmt.Errorf("no volumes configured")
	}
	if err := a.persistOperation(ctx, strings.Join(volumes, ",")); err != nil {
		return err
	}

	dumpDirs := make(map[string][]string)
	for _, v := range a.cfg.Volumes {
		if v.Type == "dump" {
			dumpDirs[v.DumpDir] = append(dumpDirs[v.DumpDir], v.Name)
		}
	}

	w := pipeline.NewWatcher(a.runner, a.logger, pipeline.WatchOptions{
		Volumes:      volumes,
		DumpDirs:     dumpDirs,
		PollInterval: a.cfg.Collector.PollInterval.Std(),
		Debounce:     a.cfg.Collector.Debounce.Std(),
		AfterRun: func(ctx context.Context, report *pipeline.RunReport) {
			if onRun != nil {
				onRun(report)
			}
			if n, err := a.hot.Expire(ctx); err != nil {
				a.logger.Error("expiring hot tier", "error", err)
			} else if n > 0 {
				a.logger.Info("expired hot-tier records", "count", n)
			}
		},
	})
	return a.track(w.Run(ctx))
}

// QueryByTimeRange returns live records with start <= timestamp < end.
func (a *JTApp) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[jt.ActivityRecord, error] {
	return a.hot.QueryByTimeRange(ctx, start, end)
}

// QueryByEntity returns live records of one entity.
func (a *JTApp) QueryByEntity(ctx context.Context, entityID string) iter.Seq2[jt.ActivityRecord, error] {
	return a.hot.QueryByEntity(ctx, entityID)
}

// QueryByActivityType returns live records of one activity type.
func (a *JTApp) QueryByActivityType(ctx context.Context, typ jt.ActivityType) iter.Seq2[jt.ActivityRecord, error] {
	return a.hot.QueryByActivityType(ctx, typ)
}

// QueryByPathPattern returns live records whose path matches pattern.
func (a *JTApp) QueryByPathPattern(ctx context.Context, pattern string) iter.Seq2[jt.ActivityRecord, error] {
	return a.hot.QueryByPathPattern(ctx, pattern)
}

// Entity returns the entity with the given id, or nil.
func (a *JTApp) Entity(ctx context.Context, id string) (*jt.Entity, error) {
	return a.resolver.Get(ctx, id)
}

// Stats summarizes the live hot tier.
func (a *JTApp) Stats(ctx context.Context, topN int) (hottier.Stats, error) {
	return a.hot.Stats(ctx, topN)
}

// Expire removes records past retention, handing them off first when a
// sink is configured.
func (a *JTApp) Expire(ctx context.Context) (int, error) {
	if err := a.persistOperation(ctx, ""); err != nil {
		return 0, err
	}
	n, err := a.hot.Expire(ctx)
	return n, a.track(err)
}

// Bump adds delta to a record's importance score and returns the new score.
func (a *JTApp) Bump(ctx context.Context, volume string, seq int64, delta float64) (float64, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("%s:%d %+g", volume, seq, delta)); err != nil {
		return 0, err
	}
	score, err := a.hot.BumpImportance(ctx, volume, seq, delta)
	return score, a.track(err)
}

// History returns the most recent collection runs.
func (a *JTApp) History(ctx context.Context, limit int) ([]pipeline.RunSummary, error) {
	return pipeline.History(ctx, a.docs, limit)
}

// Operations returns the most recent store-mutating commands.
func (a *JTApp) Operations(ctx context.Context, limit int) ([]*Operation, error) {
	return ListOperations(ctx, a.docs, limit)
}

// Cursors returns every volume cursor, ordered by volume.
func (a *JTApp) Cursors(ctx context.Context) ([]jt.Cursor, error) {
	return a.collector.Cursors().List(ctx)
}

// BackupDatabase writes a consistent copy of the store to destPath.
func (a *JTApp) BackupDatabase(ctx context.Context, destPath string) error {
	b, ok := a.docs.(interface {
		BackupTo(ctx context.Context, destPath string) error
	})
	if !ok {
		return fmt.Errorf("database type %s does not support backups", a.cfg.Database.Type)
	}
	return b.BackupTo(ctx, destPath)
}

// Close finalizes the operation and closes all resources.
func (a *JTApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		// The command's context may be cancelled already.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.op.finish(ctx, a.docs, a.clock.Now()); err != nil {
			firstErr = err
		}
	}

	if err := a.docs.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// MigrateDatabase applies pending schema migrations and returns the
// resulting status.
func MigrateDatabase(cfg *config.Config) (migrations.Status, error) {
	return withMigrator(cfg, func(m docstore.Migrator) (migrations.Status, error) {
		if err := m.Migrate(); err != nil {
			return migrations.Status{}, err
		}
		return m.SchemaStatus()
	})
}

// DatabaseStatus reports the store's schema version.
func DatabaseStatus(cfg *config.Config) (migrations.Status, error) {
	return withMigrator(cfg, func(m docstore.Migrator) (migrations.Status, error) {
		return m.SchemaStatus()
	})
}

func withMigrator(cfg *config.Config, fn func(docstore.Migrator) (migrations.Status, error)) (migrations.Status, error) {
	docs, err := docstore.NewStoreFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("creating document store: %w", err)
	}
	defer docs.Close()

	m, ok := docs.(docstore.Migrator)
	if !ok {
		return migrations.Status{}, fmt.Errorf("database type %s has no schema", cfg.Database.Type)
	}
	return fn(m)
}

// GenerateHandoffKeys creates the age key pair used for hand-off batches
// and returns the public key.
func GenerateHandoffKeys(cfg *config.Config, passphrase string) (string, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return "", fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return "", fmt.Errorf("encryption type is none")
	}
	return enc.GenerateKeys(passphrase)
}

// OpenHandoffBatch reads a batch written by a hand-off sink. passphrase is
// needed only for encrypted batches.
func OpenHandoffBatch(cfg *config.Config, path, passphrase string) (jt.HandoffBatch, error) {
	if !strings.HasSuffix(path, handoff.EncryptedExt) {
		return handoff.Open(path, nil)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return jt.HandoffBatch{}, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return jt.HandoffBatch{}, fmt.Errorf("%s is encrypted but encryption type is none", path)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return jt.HandoffBatch{}, err
	}
	return handoff.Open(path, dc)
}
