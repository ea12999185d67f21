package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/harrylevesque/contactbook/internal/api"
	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/certs"
	"github.com/harrylevesque/contactbook/internal/config"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/crypto"
	"github.com/harrylevesque/contactbook/internal/files"
	"github.com/harrylevesque/contactbook/internal/media"
	"github.com/harrylevesque/contactbook/internal/store"
	"github.com/harrylevesque/contactbook/internal/utils"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Config file layered over the user and project files." type:"path" short:"c"`
	LogLevel string `help:"Override log.level (debug, info, warn, error)." name:"log-level"`
}

// CLI is the top-level command structure for contactbook-server.
type CLI struct {
	Globals

	Version       kong.VersionFlag `help:"Show version." short:"V"`
	Serve         ServeCmd         `cmd:"" default:"withargs" help:"Run the API server."`
	Import        ImportCmd        `cmd:"" help:"Import contacts from a JSON file into an account."`
	PurgeSessions PurgeSessionsCmd `cmd:"" name:"purge-sessions" help:"Delete expired sessions."`
}

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Addr      string        `help:"Listen address (overrides server.addr)."`
	PublicURL string        `help:"Base of download URLs (overrides server.public_url)." name:"public-url"`
	Purge     time.Duration `help:"Interval between expired session sweeps." default:"1h"`
}

// ImportCmd loads contacts for one account.
type ImportCmd struct {
	Email string `help:"Account that receives the contacts." required:""`
	File  string `arg:"" help:"JSON array of contacts (first_name, last_name or name, number, image_uri)." type:"existingfile"`
}

// PurgeSessionsCmd removes expired sessions once.
type PurgeSessionsCmd struct{}

// loadConfig loads layered config from user and project paths with env overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	paths := config.DefaultPaths()
	if g.Config != "" {
		paths = append(paths, g.Config)
	}
	cfg, err := config.LoadLayered(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	return cfg, nil
}

// backend wires the services behind the API.
type backend struct {
	store    *store.Store
	auth     *auth.Auth
	bucket   *files.Bucket
	contacts *contacts.Service
	logger   *slog.Logger
}

func openBackend(cfg *config.Config, logger *slog.Logger, allowLocalFiles bool) (*backend, error) {
	if err := utils.EnsureParentDir(cfg.Database.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	st, err := store.Open(store.Config{Path: cfg.Database.Path, PoolSize: cfg.Database.PoolSize, Logger: logger})
	if err != nil {
		return nil, err
	}

	var master []byte
	if cfg.Storage.Encrypt {
		if master, err = crypto.ReadMasterKey(cfg.Storage.MasterKeyFile); err != nil {
			st.Close()
			return nil, err
		}
	}
	bucket, err := files.New(files.Config{Dir: cfg.Storage.Dir, PublicURL: cfg.Server.PublicURL, MasterKey: master})
	if err != nil {
		st.Close()
		return nil, err
	}

	uploader := &media.Uploader{Bucket: bucket, AllowLocalFiles: allowLocalFiles, Logger: logger}
	svc := contacts.NewService(st.Contacts(),
		contacts.WithUploader(uploader),
		contacts.WithImageRemover(uploader),
		contacts.WithHub(contacts.NewHub()),
		contacts.WithLogger(logger),
	)
	a := auth.New(st.Users(), auth.Config{
		SessionTTL:        cfg.Auth.SessionTTL,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	}, logger)

	logger.Info("backend ready",
		"database", cfg.Database.Path,
		"storage", cfg.Storage.Dir,
		"encrypted", bucket.Sealed(),
	)
	return &backend{store: st, auth: a, bucket: bucket, contacts: svc, logger: logger}, nil
}

func (b *backend) Close() error { return b.store.Close() }

// setup loads and validates the config, applying override first when
// non-nil, and installs the logger.
func setup(g *Globals, stderr io.Writer, override func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (s *ServeCmd) apply(cfg *config.Config) {
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	if s.PublicURL != "" {
		cfg.Server.PublicURL = s.PublicURL
	}
}

// Run executes the serve command.
func (s *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := setup(g, os.Stderr, s.apply)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Deps{
			Auth:     b.auth,
			Contacts: b.contacts,
			Bucket:   b.bucket,
			Store:    b.store,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the signal context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if cfg.Server.TLSCert != "" {
		tlsCfg, report, err := certs.LoadServerConfig(cfg.Server.TLSCert, cfg.Server.TLSKey, time.Now())
		if err != nil {
			return err
		}
		for _, st := range report {
			switch {
			case st.Expired:
				logger.Error("certificate expired", "subject", st.Subject, "not_after", st.NotAfter)
			case st.ExpiresSoon:
				logger.Warn("certificate expires soon", "subject", st.Subject, "not_after", st.NotAfter)
			}
		}
		srv.TLSConfig = tlsCfg
	}

	go purgeLoop(ctx, b, s.Purge)

	errc := make(chan error, 1)
	go func() {
		logger.Info("server running", "addr", cfg.Server.Addr, "tls", srv.TLSConfig != nil, "version", version)
		if srv.TLSConfig != nil {
			errc <- srv.ListenAndServeTLS("", "")
		} else {
			errc <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func purgeLoop(ctx context.Context, b *backend, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := b.store.Users().PurgeExpiredSessions(ctx, time.Now())
			if err != nil {
				b.logger.Warn("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				b.logger.Info("expired sessions purged", "count", n)
			}
		}
	}
}

// Run executes the import command.
func (c *ImportCmd) Run(g *Globals) error {
	cfg, logger, err := setup(g, os.Stderr, nil)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, logger, true)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := importContacts(ctx, b, c.Email, c.File)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "imported %d contacts, %d failed\n", res.imported, len(res.failed))
	for _, f := range res.failed {
		fmt.Fprintf(os.Stdout, "  #%d: %v\n", f.index+1, f.err)
	}
	return nil
}

type importFailure struct {
	index int
	err   error
}

type importResult struct {
	imported int
	failed   []importFailure
}

// importContacts creates every draft of path for the account with email.
// Relative image paths resolve against the directory of path. Invalid rows
// are reported and skipped.
func importContacts(ctx context.Context, b *backend, email, path string) (importResult, error) {
	u, err := b.store.Users().UserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return importResult{}, fmt.Errorf("looking up %s: %w", email, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return importResult{}, err
	}
	var drafts []contacts.Draft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return importResult{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	var res importResult
	base := filepath.Dir(path)
	for i, d := range drafts {
		if ref := strings.TrimPrefix(d.ImageURI, "file://"); ref != "" && !media.IsRemote(ref) && !media.IsDataURI(ref) && !filepath.IsAbs(ref) {
			d.ImageURI = filepath.Join(base, ref)
		}
		if _, err := b.contacts.Create(ctx, u.UID, d); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.failed = append(res.failed, importFailure{index: i, err: err})
			continue
		}
		res.imported++
	}
	b.logger.Info("import finished", "uid", u.UID, "imported", res.imported, "failed", len(res.failed))
	return res, nil
}

// Run executes the purge-sessions command.
func (p *PurgeSessionsCmd) Run(g *Globals) error {
	cfg, logger, err := setup(g, os.Stderr, nil)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()
	n, err := b.store.Users().PurgeExpiredSessions(context.Background(), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "purged %d expired sessions\n", n)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("contactbook-server"),
		kong.Description("Contact book API server."),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
