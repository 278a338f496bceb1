// Package julesclient assembles the concrete jules.Client: wiring the
// HTTP transport, local stores, network adapter, resource clients, query
// engine, forge adapter, and fleet handlers behind the public interfaces
// in pkg/jules.
package julesclient

import (
	"context"
	"time"

	"github.com/jules-labs/fleet/internal/activityclient"
	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/fleet"
	"github.com/jules-labs/fleet/internal/forge"
	"github.com/jules-labs/fleet/internal/httpclient"
	"github.com/jules-labs/fleet/internal/netadapter"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/internal/query"
	"github.com/jules-labs/fleet/internal/sessionclient"
	"github.com/jules-labs/fleet/internal/shared"
	"github.com/jules-labs/fleet/internal/store"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Client is the concrete jules.Client.
type Client struct {
	cfg           jules.Config
	fs            platform.Adapter
	net           *netadapter.Adapter
	stores        *store.Stores
	qe            *query.Engine
	forgeClient   jules.Forge
	fleetHandlers jules.Fleet
}

// New builds a Client from cfg, defaulting unset fields and validating
// APIKey is present (the Agent API has no unauthenticated mode, so this is
// checked once here rather than per-request the way the transport layer
// used to).
func New(ctx context.Context, cfg jules.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.APIKey == "" {
		return nil, jules.ErrMissingCredentials
	}

	fs := platform.Default{}
	if v, ok := fs.LookupEnv("JULES_FORCE_MEMORY_STORAGE"); ok && v != "" {
		cfg.Storage = jules.StorageMemory
	}

	stores, err := store.New(ctx, cfg, fs)
	if err != nil {
		return nil, err
	}

	httpc := httpclient.NewClient(cfg.BaseURL, cfg.APIKey,
		httpclient.WithLogger(cfg.Logger),
		httpclient.WithDebug(cfg.Debug),
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithRetryConfig(
			time.Duration(cfg.RateLimitRetry.MaxRetryTimeMs)*time.Millisecond,
			time.Duration(cfg.RateLimitRetry.BaseDelayMs)*time.Millisecond,
			time.Duration(cfg.RateLimitRetry.MaxDelayMs)*time.Millisecond,
		),
		httpclient.WithMaxConcurrentRequests(cfg.MaxConcurrentRequests),
		httpclient.WithHTTPTimeout(cfg.HTTPTimeout),
	)

	c := &Client{
		cfg:    cfg,
		fs:     fs,
		net:    netadapter.New(httpc, fs),
		stores: stores,
		qe:     query.New(stores.Sessions, stores.Activities),
	}

	gh := buildForgeClient(fs)
	c.forgeClient = gh
	c.fleetHandlers = fleet.New(dispatcherAdapter{c}, gh, fs,
		fleet.WithSnapshotResolver(func(ctx context.Context, sessionID string) (jules.Snapshot, error) {
			return c.Activities(sessionID).Snapshot(ctx)
		}),
	)
	return c, nil
}

// buildForgeClient wires a forge.Client authenticating either as a GitHub
// App installation (when GITHUB_APP_ID is set) or with a static
// GITHUB_TOKEN, per spec.md section 6.
func buildForgeClient(fs platform.Adapter) jules.Forge {
	ghHTTP := httpclient.NewClient("https://api.github.com", "")

	if appID, ok := fs.LookupEnv("GITHUB_APP_ID"); ok && appID != "" {
		installationID, _ := fs.LookupEnv("GITHUB_APP_INSTALLATION_ID")
		var pemKey []byte
		if b64, ok := fs.LookupEnv("GITHUB_APP_PRIVATE_KEY_BASE64"); ok && b64 != "" {
			pemKey = forge.DecodePrivateKey(b64)
		} else if raw, ok := fs.LookupEnv("GITHUB_APP_PRIVATE_KEY"); ok {
			pemKey = []byte(raw)
		}
		if tokens, err := forge.NewAppTokenSource(appID, installationID, pemKey, ghHTTP); err == nil {
			return forge.New(ghHTTP, tokens)
		}
	}

	token, _ := fs.LookupEnv("GITHUB_TOKEN")
	return forge.New(ghHTTP, forge.StaticToken(token))
}

// dispatcherAdapter implements jules.SessionDispatcher over *Client so
// internal/fleet can create sessions without importing julesclient (which
// would be a cycle: fleet <- julesclient <- fleet).
type dispatcherAdapter struct{ c *Client }

func (d dispatcherAdapter) Run(ctx context.Context, cfg jules.RunConfig) (jules.AutomatedSession, error) {
	return d.c.Run(ctx, cfg)
}

func (c *Client) Activities(sessionID string) jules.ActivityClient {
	return activityclient.New(sessionID, c.net, c.stores.Activities, c.stores.Sessions, c.fs)
}

func (c *Client) Sessions(sessionID string) jules.SessionClient {
	return sessionclient.New(sessionID, c.net, c.stores.Sessions, activityclient.New(sessionID, c.net, c.stores.Activities, c.stores.Sessions, c.fs), c.fs)
}

func (c *Client) Run(ctx context.Context, cfg jules.RunConfig) (jules.AutomatedSession, error) {
	session, err := c.net.CreateSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.stores.Sessions.Upsert(ctx, session); err != nil {
		return nil, err
	}
	return c.session(session.ID), nil
}

func (c *Client) Session(sessionID string) jules.AutomatedSession {
	return c.session(sessionID)
}

func (c *Client) session(sessionID string) *automatedSession {
	ac := activityclient.New(sessionID, c.net, c.stores.Activities, c.stores.Sessions, c.fs)
	sc := sessionclient.New(sessionID, c.net, c.stores.Sessions, ac, c.fs)
	return &automatedSession{id: sessionID, activities: ac, sessions: sc}
}

func (c *Client) List(ctx context.Context, q jules.Query) (jules.Cursor, error) {
	q.Domain = jules.DomainSessions
	return newCursor(c.stores.Sessions, c.qe, q), nil
}

func (c *Client) Query(ctx context.Context, q jules.Query) (jules.QueryResult, error) {
	return c.qe.Run(ctx, q)
}

func (c *Client) All(ctx context.Context, items []string, opts jules.AllOptions, fn func(ctx context.Context, sessionID string) error) error {
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = constants.DefaultAllConcurrency
	}
	_, err := shared.PMap(ctx, items, concurrency, opts.StopOnError, func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, fn(ctx, id)
	})
	return err
}

func (c *Client) Sync(ctx context.Context, sessionIDs []string, opts jules.SyncOptions) error {
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = constants.DefaultSessionInfoConcurrency
	}
	report := func(p jules.SyncProgress) {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}
	_, err := shared.PMap(ctx, sessionIDs, concurrency, false, func(ctx context.Context, id string) (struct{}, error) {
		report(jules.SyncProgress{SessionID: id, Phase: "hydrating", At: c.fs.Now()})
		activities := c.Activities(id)
		if _, err := activities.Hydrate(ctx); err != nil {
			report(jules.SyncProgress{SessionID: id, Phase: "error", At: c.fs.Now(), Err: err})
			return struct{}{}, err
		}
		session, err := c.Sessions(id).Info(ctx)
		if err != nil {
			report(jules.SyncProgress{SessionID: id, Phase: "error", At: c.fs.Now(), Err: err})
			return struct{}{}, err
		}
		if session.State.IsTerminal() {
			report(jules.SyncProgress{SessionID: id, Phase: "terminal", At: c.fs.Now()})
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Client) With(overrides jules.Config) jules.Client {
	merged := c.cfg
	if overrides.APIKey != "" {
		merged.APIKey = overrides.APIKey
	}
	if overrides.BaseURL != "" {
		merged.BaseURL = overrides.BaseURL
	}
	if overrides.Logger != nil {
		merged.Logger = overrides.Logger
	}
	next, err := New(context.Background(), merged)
	if err != nil {
		return c // overrides left the config invalid; keep serving the prior client rather than panic
	}
	return next
}

func (c *Client) Forge() jules.Forge { return c.forgeClient }
func (c *Client) Fleet() jules.Fleet { return c.fleetHandlers }
