// Package boot is the composition root: it parses config, constructs every
// singleton collaborator, wires them together, and owns their lifecycle
// (start sweepers and HTTP servers, stop them on shutdown).
package boot

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/driverqueue/dispatcher/internal/adminauth"
	"github.com/driverqueue/dispatcher/internal/chatapi"
	"github.com/driverqueue/dispatcher/internal/claim"
	"github.com/driverqueue/dispatcher/internal/config"
	"github.com/driverqueue/dispatcher/internal/eventlog"
	"github.com/driverqueue/dispatcher/internal/export"
	"github.com/driverqueue/dispatcher/internal/hashutil"
	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/lock"
	"github.com/driverqueue/dispatcher/internal/metrics"
	"github.com/driverqueue/dispatcher/internal/ops"
	"github.com/driverqueue/dispatcher/internal/queue"
	"github.com/driverqueue/dispatcher/internal/session"
	"github.com/driverqueue/dispatcher/internal/slot"
	"github.com/driverqueue/dispatcher/internal/store"
	"github.com/driverqueue/dispatcher/internal/timer"
)

// groups lists every queue partition the core serves.
var groups = []string{session.GroupMoto, session.GroupGeneral}

// App is the fully wired dispatch core, ready to Run.
type App struct {
	cfg     *config.Config
	log     ops.Logger
	webhook *http.Server
	metrics *http.Server
	etcd    *clientv3.Client
	db      *store.DB
	tasks   *taskGroup
}

// activeReaderAdapter dispatches timer.ActiveReader's group-parameterized
// ActiveChatID against the per-group slot.Controller it actually belongs to,
// resolving the shape mismatch between a single shared Wheel and Controller's
// inherently per-group method set.
type activeReaderAdapter struct {
	slots map[string]*slot.Controller
}

func (a *activeReaderAdapter) ActiveChatID(ctx context.Context, group string) (string, bool, error) {
	ctrl, ok := a.slots[group]
	if !ok {
		return "", false, nil
	}
	return ctrl.ActiveChatID(ctx)
}

// New parses configuration, dials external dependencies, and wires every
// component. Any error here means the process must refuse to start.
func New(args []string) (*App, error) {
	cfg, err := config.Parse(args)
	if err != nil {
		return nil, err
	}
	log := ops.New(ops.ParseLevel(cfg.LogLevel))

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Store.RedisURL},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	kv := kvstore.NewEtcdStore(etcdClient)

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	blocklist := store.NewBlocklistChecker(db, 4096)

	locker := lock.New(kv, log)
	events := eventlog.New(kv, log)

	queues := make(map[string]*queue.Engine, len(groups))
	for _, g := range groups {
		queues[g] = queue.New(kv, locker, g, cfg.BlocklistWait())
	}

	admin := adminauth.New(kv, cfg.Admin.SyncPassword, cfg.SyncJWTTTL())

	var exportSink claim.ExportSink
	if cfg.Export.Bucket != "" {
		gcsClient, err := storage.NewClient(context.Background())
		if err != nil {
			return nil, err
		}
		exportSink = export.New(gcsClient, cfg.Export.Bucket, log)
	}
	claims := claim.New(db, exportSink, log, events)

	sender := chatapi.NewHTTPSender(cfg.Chat.SendEndpoint, log)

	machine := session.New(
		session.NewRepository(kv, cfg.StateTTL()),
		db, claims, blocklist, nil, events, sender, admin, log,
	)

	slots := make(map[string]*slot.Controller, len(groups))
	for _, g := range groups {
		slots[g] = slot.New(kv, locker, queues[g], g, machine.NotifyAcquired)
	}
	for _, g := range groups {
		slots[g].SetExpireHandler(machine.HandleSweeperExpire)
	}
	machine.SetGroups(queues, slots)

	hashKey, err := resolveHashKey(cfg.Timer.HighwayHashKeyHex)
	if err != nil {
		return nil, err
	}
	wheel := timer.New(kv, log, hashKey, machine, &activeReaderAdapter{slots: slots}, machine.HandleTimerTimeout)
	machine.SetTimers(wheel)

	tasks := newTaskGroup(log)
	for _, g := range groups {
		g := g
		tasks.spawn(g+".sweeper", func(ctx context.Context) error {
			return timer.RunSweeper(ctx, log, g, slots[g])
		})
	}

	handler := chatapi.NewHandler(machine, log)
	syncComplete := chatapi.NewSyncCompleteHandler(machine, cfg.Admin.SyncPassword, log)
	webhookMux := http.NewServeMux()
	webhookMux.Handle("/telegram/webhook", handler)
	webhookMux.Handle("/admin/sync-complete", syncComplete)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	return &App{
		cfg:     cfg,
		log:     log,
		webhook: &http.Server{Addr: cfg.HTTP.WebhookAddr, Handler: webhookMux},
		metrics: &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux},
		etcd:    etcdClient,
		db:      db,
		tasks:   tasks,
	}, nil
}

func resolveHashKey(hex string) (hashutil.Key, error) {
	if hex == "" {
		return hashutil.NewKey()
	}
	return hashutil.KeyFromHex(hex)
}

// Run starts the sweepers and both HTTP servers, blocking until ctx is
// cancelled, then tears everything down.
func (a *App) Run(ctx context.Context) error {
	a.tasks.start(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- a.webhook.ListenAndServe() }()
	go func() { errCh <- a.metrics.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.log.WithFields(map[string]interface{}{"err": err}).Error("boot: server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.webhook.Shutdown(shutdownCtx)
	_ = a.metrics.Shutdown(shutdownCtx)
	a.tasks.stop()
	_ = a.db.Close()
	_ = a.etcd.Close()
	return nil
}
