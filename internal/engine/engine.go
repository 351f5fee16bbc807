// Package engine correlates decoy and bait sessions, classifies them and
// serves the operator command channel. All store writes happen on the single
// goroutine running Engine.Run.
package engine

import (
	"database/sql"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/config"
	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/feed"
	"github.com/rsclarke/beehive/internal/messages"
)

// Options tunes ingestion, correlation and retention.
type Options struct {
	// MaxSessions caps the store. Negative means unlimited, zero disables
	// ingestion.
	MaxSessions              int
	Delay                    time.Duration
	CorrelationWindow        time.Duration
	BaitRetainDays           int
	MaliciousRetainDays      int
	IgnoreFailedBaitSessions bool
	ClearSessions            bool
	MaxClockSkew             time.Duration
	MaintenanceInterval      time.Duration
	RecentIDCache            int
	BaitUsers                map[string]string

	// Server is advertised to drones in their configuration.
	Server              messages.ServerEndpoint
	DroneCommandsPrefix string
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig derives engine options from the server configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Sessions
	return Options{
		MaxSessions:              s.MaxSessions,
		Delay:                    s.Delay(),
		CorrelationWindow:        time.Duration(s.CorrelationWindow) * time.Second,
		BaitRetainDays:           s.BaitSessionRetain,
		MaliciousRetainDays:      s.MaliciousSessionRetain,
		IgnoreFailedBaitSessions: s.IgnoreFailedBaitSession,
		ClearSessions:            s.ClearSessions,
		MaxClockSkew:             s.MaxClockSkew,
		MaintenanceInterval:      s.MaintenanceInterval,
		RecentIDCache:            s.RecentIDCache,
		BaitUsers:                cfg.BaitUsers,
		Server: messages.ServerEndpoint{
			Host:               cfg.ServerHost,
			NATSURL:            cfg.NATS.URL,
			RawSessionsSubject: cfg.NATS.RawSessionsSubject,
		},
		DroneCommandsPrefix: cfg.NATS.DroneCommandsPrefix,
	}
}

// DroneNotifier delivers a frame to one drone.
type DroneNotifier interface {
	SendToDrone(droneID string, data []byte) error
}

// Deps are the collaborators an Engine publishes to.
type Deps struct {
	Feed       *feed.Pipeline
	Drones     DroneNotifier
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Command is one request read from the command channel. Reply is called
// exactly once with the encoded response.
type Command struct {
	Data  []byte
	Reply func([]byte) error
}

// Engine owns the session store and every state transition applied to it.
type Engine struct {
	db       *sql.DB
	opts     Options
	feed     *feed.Pipeline
	drones   DroneNotifier
	decoder  *messages.Decoder
	recent   *lru.Cache[string, struct{}]
	metrics  *Metrics
	logger   *zap.Logger
	commands map[string]commandFunc

	now func() time.Time
	rng *rand.Rand

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an Engine over an opened store.
func New(database *sql.DB, opts Options, deps Deps) (*Engine, error) {
	if opts.Delay <= time.Second {
		return nil, fmt.Errorf("delay must exceed one second, got %s", opts.Delay)
	}
	if opts.RecentIDCache <= 0 {
		opts.RecentIDCache = 4096
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Hour
	}

	recent, err := lru.New[string, struct{}](opts.RecentIDCache)
	if err != nil {
		return nil, fmt.Errorf("create recent id cache: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pipeline := deps.Feed
	if pipeline == nil {
		pipeline = feed.NewPipeline(logger)
	}
	drones := deps.Drones
	if drones == nil {
		drones = discardNotifier{}
	}

	e := &Engine{
		db:      database,
		opts:    opts,
		feed:    pipeline,
		drones:  drones,
		decoder: messages.NewDecoder(),
		recent:  recent,
		metrics: NewMetrics(deps.Registerer),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6265656869766500)),
		stop:    make(chan struct{}),
	}
	e.commands = e.commandTable()
	return e, nil
}

// Prepare runs the startup cleanup and seeds configured bait users. It must
// be called before Run.
func (e *Engine) Prepare() error {
	if e.opts.ClearSessions || e.opts.MaxSessions == 0 {
		n, err := db.DeleteAllSessions(e.db)
		if err != nil {
			return storeError("clear sessions", err)
		}
		e.logger.Info("cleared all sessions", zap.Int64("deleted", n))
	} else {
		n, err := db.DeletePendingSessions(e.db)
		if err != nil {
			return storeError("clear pending sessions", err)
		}
		if n > 0 {
			e.logger.Info("dropped unclassified sessions from previous run", zap.Int64("deleted", n))
		}
	}

	for username, password := range e.opts.BaitUsers {
		if _, _, err := db.CreateBaitUser(e.db, username, password); err != nil {
			return storeError("seed bait users", err)
		}
	}
	return nil
}

// Stop makes Run return after the current iteration.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Metrics exposes the engine collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

type discardNotifier struct{}

func (discardNotifier) SendToDrone(string, []byte) error { return nil }
