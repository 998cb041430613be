// Package redisbus carries switch events and flow tables over Redis. Events arrive as
// JSON on a pub/sub channel; tables are written as FLOW_TABLE hashes.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"

	"flow-policy-controller/internal/installer"
	"flow-policy-controller/internal/model"
)

const DefaultChannel = "flowctl:events"

// Handler is satisfied by controller.Manager.
type Handler interface {
	OnConnect(ctx context.Context, sw model.SwitchID, session installer.Session) error
	OnDisconnect(sw model.SwitchID)
	OnUnhandledPacket(sw model.SwitchID, pkt model.PacketDescriptor)
}

// SessionFactory opens the outbound session for a newly connected switch.
type SessionFactory func(ctx context.Context, sw model.SwitchID) (installer.Session, error)

// Bus dispatches events to the handler. Each connect runs on its own goroutine and
// is cancelled by the matching disconnect or by a later connect of the same switch.
type Bus struct {
	client   *redis.Client
	channel  string
	handler  Handler
	sessions SessionFactory
	logger   *slog.Logger

	mu     sync.Mutex
	active map[model.SwitchID]context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(client *redis.Client, channel string, handler Handler, sessions SessionFactory, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client:   client,
		channel:  channel,
		handler:  handler,
		sessions: sessions,
		logger:   logger,
		active:   make(map[model.SwitchID]context.CancelFunc),
	}
}

// RedisSessions returns a factory producing FLOW_TABLE sessions that start empty.
func RedisSessions(client *redis.Client) SessionFactory {
	return func(ctx context.Context, sw model.SwitchID) (installer.Session, error) {
		s := NewSession(client, sw)
		if err := s.Clear(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Run subscribes and dispatches until ctx is done, then waits for in-flight
// installations to stop.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("listening for switch events", "channel", b.channel)

	ch := sub.Channel()
	defer b.wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			b.Dispatch(ctx, []byte(msg.Payload))
		}
	}
}

// Dispatch handles one encoded event. Undecodable events are logged and dropped.
func (b *Bus) Dispatch(ctx context.Context, payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		b.logger.Warn("dropping event", "error", err)
		return
	}
	sw := model.SwitchID(ev.Switch)

	switch ev.Type {
	case EventConnect:
		b.connect(ctx, sw)
	case EventDisconnect:
		b.release(sw)
		b.handler.OnDisconnect(sw)
	case EventPacketIn:
		b.handler.OnUnhandledPacket(sw, ev.Packet.Descriptor())
	}
}

func (b *Bus) connect(ctx context.Context, sw model.SwitchID) {
	b.release(sw)

	sctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.active[sw] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		session, err := b.sessions(sctx, sw)
		if err != nil {
			b.logger.Error("cannot open session", "switch", sw, "error", err)
			return
		}
		// Failures are reported through the handler's observer.
		if err := b.handler.OnConnect(sctx, sw, session); err != nil {
			b.logger.Debug("connect handling ended with error", "switch", sw, "error", err)
		}
	}()
}

func (b *Bus) release(sw model.SwitchID) {
	b.mu.Lock()
	cancel, ok := b.active[sw]
	delete(b.active, sw)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

func (b *Bus) wait() {
	b.mu.Lock()
	for sw, cancel := range b.active {
		cancel()
		delete(b.active, sw)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
