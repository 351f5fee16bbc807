// Package bus connects the engine to NATS. Drone frames and operator commands
// are fanned into channels consumed by the engine actor; classified sessions
// and drone configuration are published back out.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/engine"
	"github.com/rsclarke/beehive/internal/logging"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Subjects names the NATS subjects the engine listens and talks on.
type Subjects struct {
	RawSessions  string
	Commands     string
	DronesPrefix string
}

// Bus owns the NATS connection and the subscriptions feeding the engine.
type Bus struct {
	nc       *nats.Conn
	subjects Subjects
	publish  func(subject string, data []byte) error
	logger   *zap.Logger

	ingress  chan []byte
	commands chan engine.Command

	mu     sync.Mutex
	subs   []*nats.Subscription
	done   chan struct{}
	closed bool
}

// Connect dials the NATS server at url. Call Start to begin consuming.
func Connect(url string, subjects Subjects, logger *zap.Logger) (*Bus, error) {
	logger = logger.With(logging.Component("bus"))
	nc, err := nats.Connect(url,
		nats.Name("beehive"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b := newBus(nc.Publish, subjects, logger)
	b.nc = nc
	return b, nil
}

func newBus(publish func(string, []byte) error, subjects Subjects, logger *zap.Logger) *Bus {
	return &Bus{
		subjects: subjects,
		publish:  publish,
		logger:   logger,
		ingress:  make(chan []byte, 256),
		commands: make(chan engine.Command, 16),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the raw session and command subjects.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	raw, err := b.subscribe(b.subjects.RawSessions, b.onRaw)
	if err != nil {
		return err
	}
	cmds, err := b.subscribe(b.subjects.Commands, b.onCommand)
	if err != nil {
		_ = raw.Unsubscribe()
		return err
	}
	b.subs = append(b.subs, raw, cmds)
	b.logger.Info("subscribed",
		logging.Subject(b.subjects.RawSessions),
		zap.String("commands_subject", b.subjects.Commands))
	return nil
}

func (b *Bus) subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Ingress carries raw drone frames to the engine.
func (b *Bus) Ingress() <-chan []byte { return b.ingress }

// Commands carries operator requests to the engine.
func (b *Bus) Commands() <-chan engine.Command { return b.commands }

func (b *Bus) onRaw(msg *nats.Msg) {
	data := append([]byte(nil), msg.Data...)
	select {
	case b.ingress <- data:
	case <-b.done:
	}
}

func (b *Bus) onCommand(msg *nats.Msg) {
	if msg.Reply == "" {
		b.logger.Warn("dropping command without reply subject", logging.Subject(msg.Subject))
		return
	}
	reply := msg.Reply
	cmd := engine.Command{
		Data: append([]byte(nil), msg.Data...),
		Reply: func(resp []byte) error {
			return b.publish(reply, resp)
		},
	}
	select {
	case b.commands <- cmd:
	case <-b.done:
	}
}

// Publish sends data on subject.
func (b *Bus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.publish(subject, data)
}

// SendToDrone publishes a frame on the drone's own subject.
func (b *Bus) SendToDrone(droneID string, data []byte) error {
	return b.Publish(b.DroneSubject(droneID), data)
}

// DroneSubject returns the subject a drone listens on.
func (b *Bus) DroneSubject(droneID string) string {
	return b.subjects.DronesPrefix + "." + droneID
}

// Close drains the subscriptions and closes the connection. Handlers blocked
// on a full channel are released.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
