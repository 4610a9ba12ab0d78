package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/profilesync/internal/config"
	"github.com/and161185/profilesync/internal/identity"
	"github.com/and161185/profilesync/internal/repository"
	fsstore "github.com/and161185/profilesync/internal/repository/firestore"
	"github.com/and161185/profilesync/internal/repository/postgres"
	"github.com/and161185/profilesync/internal/repository/sqlite"
	"github.com/and161185/profilesync/internal/service"
	"github.com/and161185/profilesync/internal/session"
	"github.com/and161185/profilesync/internal/syncengine"
)

// app is the wired object graph of one command invocation.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *sqlite.DB
	profiles service.ProfileService
	engine   *syncengine.Engine
	sess     *session.Context
	coord    *session.Coordinator

	closers []func()
}

func (o *RootOptions) open(ctx context.Context, level zapcore.Level) (*app, error) {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return nil, err
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	log, err := o.logger(level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o700); err != nil {
		a.Close()
		return nil, err
	}
	a.db, err = sqlite.Open(ctx, cfg.DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.db.Close() })

	opener := o.Remote
	if opener == nil {
		opener = openRemote
	}
	remote, release, err := opener(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s remote: %w", cfg.Remote, err)
	}
	a.closers = append(a.closers, release)

	a.profiles = service.NewProfileService(sqlite.NewProfileRepo(a.db), nil)
	a.sess = session.NewContext()
	a.engine = syncengine.New(a.profiles, remote, log, syncengine.WithListenerErrors(a.sess.RecordListenerError))
	a.closers = append(a.closers, a.engine.Close)
	a.coord = session.NewCoordinator(a.profiles, a.engine, a.sess, log)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (o *RootOptions) identity(ctx context.Context, a *app) (AuthProvider, error) {
	if o.Identity != nil {
		return o.Identity(ctx, a.cfg, a.log)
	}
	fb, err := identity.NewFirebase(ctx, identity.FirebaseConfig{
		APIKey:          a.cfg.Firebase.APIKey,
		ProjectID:       a.cfg.Firebase.ProjectID,
		CredentialsFile: a.cfg.Firebase.CredentialsFile,
		GoogleClientID:  a.cfg.Firebase.GoogleClientID,
	}, a.log)
	if err != nil {
		return nil, err
	}
	return fb, nil
}

func (o *RootOptions) logger(level zapcore.Level) (*zap.Logger, error) {
	if o.Debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openRemote(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.DocumentStore, func(), error) {
	switch cfg.Remote {
	case config.RemotePostgres:
		db, err := postgres.Open(ctx, cfg.RemoteDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewDocumentStore(db, cfg.Collection, log), db.Close, nil
	default:
		st, err := fsstore.Open(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Collection, log)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// withTimeout bounds a one-shot command by the configured remote timeout.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.RemoteTimeout)
}
