package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"ubcore/cascade"
	"ubcore/config"
	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/messaging"
	"ubcore/metrics"
	"ubcore/statecache"
	"ubcore/store"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	MsgClient  *messaging.Client  // nil runs without a broker; outbox rows wait
	Cache      statecache.Backend // nil disables the status cache
	Metrics    *metrics.Collector
	LogFunc    LogFunc
}

// Engine owns the lifecycle machine and the background workers around it.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	alloc      *ident.Allocator
	cascade    *cascade.Engine
	machine    *lifecycle.Machine
	cache      *statecache.Manager
	msgClient  *messaging.Client
	drainer    *messaging.OutboxDrainer
	metrics    *metrics.Collector
	Events     *EventBus
	logFn      LogFunc

	stopOnce     sync.Once
	stopChan     chan struct{}
	mu           sync.Mutex
	msgConnected bool
	cacheUp      bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}
	m := c.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	lc := cfg.Lifecycle

	e := &Engine{
		cfg:        cfg,
		configPath: c.ConfigPath,
		db:         c.DB,
		msgClient:  c.MsgClient,
		metrics:    m,
		Events:     NewEventBus(),
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}
	e.alloc = ident.NewAllocator(c.DB,
		ident.WithAttempts(lc.MaxAttempts),
		ident.WithDelay(lc.RetryDelay),
		ident.WithTimeout(lc.StoreTimeout),
		ident.WithRecorder(m),
	)
	e.cascade = cascade.New(cascade.WithRecorder(m))
	e.machine = lifecycle.New(c.DB, e.alloc,
		lifecycle.WithCascader(e.cascade),
		lifecycle.WithEmitter(&busEmitter{bus: e.Events}),
		lifecycle.WithOutbox(cfg.Messaging.EventsTopic, cfg.Messaging.NodeID),
		lifecycle.WithStoreTimeout(lc.StoreTimeout),
		lifecycle.WithRetry(lc.MaxAttempts, lc.RetryDelay),
		lifecycle.WithQuoteValidity(lc.QuoteValidity),
	)
	e.cache = statecache.NewManager(c.DB, c.Cache)
	if c.MsgClient != nil {
		e.drainer = messaging.NewOutboxDrainer(c.DB, c.MsgClient, cfg.Messaging.OutboxDrainInterval)
	}
	return e
}

func (e *Engine) Start() {
	e.wireEventHandlers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := e.cache.Sync(ctx); err != nil {
		e.logFn("engine: cache sync: %v", err)
	} else if n > 0 {
		e.logFn("engine: loaded %d open orders and jobs into cache", n)
	}
	cancel()

	if e.msgClient != nil {
		handler := messaging.NewTelemetryHandler(e.machine, e.cfg.Lifecycle.StoreTimeout)
		consumer := messaging.NewConsumer(e.msgClient, e.cfg.Messaging.TelemetryTopic, handler)
		if err := consumer.Start(); err != nil {
			e.logFn("engine: telemetry subscribe %s: %v", e.cfg.Messaging.TelemetryTopic, err)
		}
		e.drainer.Start()
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()

	e.logFn("engine: started")
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	if e.drainer != nil {
		e.drainer.Stop()
	}
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                     { return e.db }
func (e *Engine) AppConfig() *config.Config         { return e.cfg }
func (e *Engine) ConfigPath() string                { return e.configPath }
func (e *Engine) Machine() *lifecycle.Machine       { return e.machine }
func (e *Engine) Allocator() *ident.Allocator       { return e.alloc }
func (e *Engine) Cascade() *cascade.Engine          { return e.cascade }
func (e *Engine) Cache() *statecache.Manager        { return e.cache }
func (e *Engine) MsgClient() *messaging.Client      { return e.msgClient }
func (e *Engine) Metrics() *metrics.Collector       { return e.metrics }
func (e *Engine) Drainer() *messaging.OutboxDrainer { return e.drainer }

// Health is the component status served by /api/health.
type Health struct {
	Store         string `json:"store"`
	Messaging     string `json:"messaging"`
	Cache         string `json:"cache"`
	OutboxPending int    `json:"outbox_pending"`
}

func (h Health) OK() bool { return h.Store == "ok" }

func (e *Engine) Health(ctx context.Context) Health {
	h := Health{Store: "ok", Messaging: "disabled", Cache: "disabled"}
	if err := e.db.Healthy(ctx); err != nil {
		h.Store = err.Error()
	} else if n, err := e.db.Direct().CountPendingOutbox(ctx); err == nil {
		h.OutboxPending = n
		e.metrics.SetOutboxPending(n)
	}
	if e.msgClient != nil {
		h.Messaging = "disconnected"
		if e.msgClient.IsConnected() {
			h.Messaging = "ok"
		}
	}
	if e.cache.Enabled() {
		h.Cache = "ok"
		if err := e.cache.Healthy(ctx); err != nil {
			h.Cache = err.Error()
		}
	}
	return h
}

func (e *Engine) checkConnectionStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := e.Health(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if msgUp := h.Messaging == "ok"; msgUp != e.msgConnected && e.msgClient != nil {
		e.msgConnected = msgUp
		if msgUp {
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: e.msgClient.Backend() + " connected"}})
		} else {
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
	if cacheUp := h.Cache == "ok"; cacheUp != e.cacheUp && e.cache.Enabled() {
		e.cacheUp = cacheUp
		if cacheUp {
			e.Events.Emit(Event{Type: EventCacheConnected, Payload: ConnectionEvent{Detail: "redis connected"}})
		} else {
			e.Events.Emit(Event{Type: EventCacheDisconnected, Payload: ConnectionEvent{Detail: h.Cache}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

// ReconfigureMessaging reconnects messaging with current config.
func (e *Engine) ReconfigureMessaging() {
	if e.msgClient == nil {
		return
	}
	if err := e.msgClient.Reconfigure(&e.cfg.Messaging); err != nil {
		e.logFn("engine: messaging reconfigure error: %v", err)
	} else {
		e.logFn("engine: messaging reconfigured")
	}
	e.checkConnectionStatus()
}
