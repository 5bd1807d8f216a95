package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sorteiohub/restaum/go/internal/models"
)

const (
	consumerName           = "game-orchestrator"
	natsMaxReconnects      = -1
	natsReconnectWait      = 2 * time.Second
	consumerMaxDeliver     = 5
	consumerAckWait        = 30 * time.Second
	consumerMaxAckPending  = 100
	eventChannelBufferSize = 100

	// Retry delays for ticks that fail before the game state is known and for
	// enqueues dropped on a full work channel. Both re-arm a timer so a game
	// never loses its schedule to a transient failure.
	tickRetryDelay    = 5 * time.Second
	enqueueRetryDelay = time.Second
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// GameApp defines what the orchestrator needs from the game app
type GameApp interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	ListActiveGames(ctx context.Context) ([]models.Game, error)
	EliminateOne(ctx context.Context, gameID uuid.UUID) (*models.Participant, error)
	FinalizeGame(ctx context.Context, gameID uuid.UUID, winnerParticipantID *uuid.UUID) (*models.Game, error)
}

type Config struct {
	NumWorkers      int
	WorkBuffer      int
	MaxGameDuration time.Duration // active games older than this are drained on tick
}

func DefaultConfig() Config {
	return Config{
		NumWorkers:      10,
		WorkBuffer:      20,
		MaxGameDuration: 24 * time.Hour,
	}
}

// Orchestrator drives elimination ticks for active games. It consumes domain
// events from JetStream, keeps one one-shot timer per live game, and survives
// restarts by recomputing timers from the persisted deadlines.
type Orchestrator struct {
	gameApp    GameApp
	clock      Clock
	config     Config
	instanceID string // unique ID for this scheduler instance

	// Worker pool
	workCh chan uuid.UUID

	// One active timer per game
	activeTimers   map[uuid.UUID]clockwork.Timer
	activeTimersMu sync.Mutex

	// Base-time idempotency guard against duplicate event deliveries
	lastScheduled   map[uuid.UUID]time.Time
	lastScheduledMu sync.Mutex

	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
}

// NewOrchestrator creates a new game orchestrator with worker pool
func NewOrchestrator(gameApp GameApp, cfg Config) *Orchestrator {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultConfig().NumWorkers
	}
	if cfg.WorkBuffer <= 0 {
		cfg.WorkBuffer = cfg.NumWorkers * 2
	}
	return &Orchestrator{
		gameApp:       gameApp,
		clock:         clockwork.NewRealClock(),
		config:        cfg,
		instanceID:    uuid.New().String()[:8], // short ID for logging
		workCh:        make(chan uuid.UUID, cfg.WorkBuffer),
		activeTimers:  make(map[uuid.UUID]clockwork.Timer),
		lastScheduled: make(map[uuid.UUID]time.Time),
	}
}

// Close gracefully closes the orchestrator
func (o *Orchestrator) Close() error {
	if o.nc != nil {
		o.nc.Close()
	}
	return nil
}
