// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/lib/clock"
	"github.com/bureau-foundation/meshbridge/lib/ratelimit"
	"github.com/bureau-foundation/meshbridge/meshcore"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultQueueSize     = 256
	DefaultShutdownGrace = 3 * time.Second
)

// Link names used in logs, transitions, and status.
const (
	MeshLinkName    = "mesh"
	GatewayLinkName = "discord"
)

// MeshSession is a connected mesh link as the bridge uses it.
// *meshcore.Session satisfies it.
type MeshSession interface {
	supervisor.Session
	Messages() <-chan meshcore.Message
	SendMessage(ctx context.Context, message meshcore.Message) error
}

// ChatSession is a connected gateway as the bridge uses it.
// *discord.Session satisfies it.
type ChatSession interface {
	supervisor.Session
	Messages() <-chan discord.Message
}

// ChatSender posts to a chat destination. *discord.Client satisfies it.
type ChatSender interface {
	SendMessage(ctx context.Context, message discord.Message) error
}

// Dependencies are the links the bridge drives.
type Dependencies struct {
	// ConnectMesh opens one mesh session. Required.
	ConnectMesh func(ctx context.Context) (MeshSession, error)

	// ConnectGateway opens one gateway session. Required.
	ConnectGateway func(ctx context.Context) (ChatSession, error)

	// Sender posts mesh traffic to Discord. Required.
	Sender ChatSender

	// MeshStats and GatewayStats, if set, are folded into Stats.
	MeshStats    func() meshcore.Stats
	GatewayStats func() discord.GatewayStats
}

// LinkDependencies wires a mesh link, a gateway, and the REST client
// that shares the gateway's token.
func LinkDependencies(link *meshcore.Link, gateway *discord.Gateway, client *discord.Client) Dependencies {
	return Dependencies{
		ConnectMesh: func(ctx context.Context) (MeshSession, error) {
			session, err := link.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		ConnectGateway: func(ctx context.Context) (ChatSession, error) {
			session, err := gateway.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Sender:       client,
		MeshStats:    link.Stats,
		GatewayStats: gateway.Stats,
	}
}

// Config tunes the coordinator.
type Config struct {
	// Channels is the topic table both directions route through.
	// Required.
	Channels *channelmap.Map

	MeshPolicy    supervisor.Policy
	GatewayPolicy supervisor.Policy

	// Rate paces sends per chat destination.
	Rate ratelimit.Config

	// QueueSize bounds each destination's dispatch queue.
	QueueSize int

	// ShutdownGrace is how long Run waits for in-flight sends after
	// its context ends.
	ShutdownGrace time.Duration

	// StatsInterval is the period of the statistics log line. Zero
	// disables it.
	StatsInterval time.Duration

	// RelayToMesh forwards chat messages onto the mesh.
	RelayToMesh bool

	// ControlSocket, if set, is the unix socket for status queries.
	ControlSocket string

	Clock  clock.Clock
	Logger *slog.Logger

	// Random feeds backoff jitter. Defaults to math/rand/v2.Float64.
	Random func() float64
}

// Bridge moves messages between the mesh and Discord.
type Bridge struct {
	config       Config
	dependencies Dependencies
	clock        clock.Clock
	logger       *slog.Logger

	mesh    *supervisor.Supervisor[MeshSession]
	gateway *supervisor.Supervisor[ChatSession]
	limiter *ratelimit.Limiter[channelmap.ChannelID]
	queues  map[channelmap.ChannelID]chan discord.Message
	stats   *counters
	links   *linkTracker

	startedAt time.Time

	// ctx is the run context; consumers started from supervisor
	// callbacks use it.
	ctx       context.Context
	consumers sync.WaitGroup

	fatalOnce sync.Once
	fatal     error
	stop      context.CancelFunc
}

// New validates config and builds a Bridge. Nothing runs until Run.
func New(config Config, dependencies Dependencies) (*Bridge, error) {
	if config.Channels == nil {
		return nil, fmt.Errorf("bridge: Channels is required")
	}
	if dependencies.ConnectMesh == nil || dependencies.ConnectGateway == nil || dependencies.Sender == nil {
		return nil, fmt.Errorf("bridge: ConnectMesh, ConnectGateway, and Sender are required")
	}
	if config.Rate.Capacity < 1 || config.Rate.RefillInterval <= 0 {
		return nil, fmt.Errorf("bridge: rate capacity and refill interval must be positive")
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Random == nil {
		config.Random = rand.Float64
	}

	b := &Bridge{
		config:       config,
		dependencies: dependencies,
		clock:        config.Clock,
		logger:       config.Logger,
		limiter:      ratelimit.New[channelmap.ChannelID](config.Rate, config.Clock),
		queues:       make(map[channelmap.ChannelID]chan discord.Message),
		stats:        newCounters(),
		links:        newLinkTracker(config.Clock.Now(), MeshLinkName, GatewayLinkName),
		startedAt:    config.Clock.Now(),
	}
	for _, destination := range config.Channels.ChatChannels() {
		b.queues[destination] = make(chan discord.Message, config.QueueSize)
	}

	b.mesh = supervisor.New(supervisor.Config[MeshSession]{
		Link:        MeshLinkName,
		Connect:     dependencies.ConnectMesh,
		OnConnected: b.consumeMesh,
		Observer:    b.links.observe,
		Policy:      config.MeshPolicy,
		Clock:       config.Clock,
		Logger:      config.Logger,
		Random:      config.Random,
	})
	b.gateway = supervisor.New(supervisor.Config[ChatSession]{
		Link:        GatewayLinkName,
		Connect:     dependencies.ConnectGateway,
		OnConnected: b.consumeChat,
		Observer:    b.links.observe,
		Policy:      config.GatewayPolicy,
		Clock:       config.Clock,
		Logger:      config.Logger,
		Random:      config.Random,
	})
	return b, nil
}

// Run drives both links until ctx is cancelled (returning nil) or
// either fails fatally (returning that error). It must be called once.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	b.ctx = runCtx
	b.stop = stop

	// Sends outlive runCtx by up to ShutdownGrace.
	sendCtx, abortSends := context.WithCancel(context.WithoutCancel(ctx))
	defer abortSends()

	b.logger.Info("bridge starting",
		"topics", len(b.config.Channels.Topics()),
		"destinations", len(b.queues),
		"relay_to_mesh", b.config.RelayToMesh,
	)

	var workers sync.WaitGroup
	for destination, queue := range b.queues {
		workers.Go(func() { b.dispatchLoop(runCtx, sendCtx, destination, queue) })
	}

	var background sync.WaitGroup
	background.Go(func() { b.supervise(runCtx, b.mesh.Run) })
	background.Go(func() { b.supervise(runCtx, b.gateway.Run) })
	if b.config.StatsInterval > 0 {
		background.Go(func() { b.statsLoop(runCtx) })
	}
	if b.config.ControlSocket != "" {
		background.Go(func() { b.serveControl(runCtx) })
	}

	<-runCtx.Done()
	b.logger.Info("bridge shutting down")

	// Supervisors close their sessions on the way out, which closes
	// the inbound channels the consumers range over.
	background.Wait()
	b.consumers.Wait()

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-b.clock.After(b.config.ShutdownGrace):
		b.logger.Warn("aborting in-flight sends", "grace", b.config.ShutdownGrace)
		abortSends()
		<-drained
	}
	b.drainQueues()

	logStats(b.logger, b.Stats())
	if b.fatal != nil {
		b.logger.Error("bridge stopped", "error", b.fatal)
		return b.fatal
	}
	b.logger.Info("bridge stopped")
	return nil
}

// supervise runs one supervisor and stops the bridge if it fails.
func (b *Bridge) supervise(ctx context.Context, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		b.fail(err)
	}
}

// fail records the first fatal error and stops the bridge.
func (b *Bridge) fail(err error) {
	b.fatalOnce.Do(func() {
		b.fatal = err
		b.stop()
	})
}

// Stats returns a snapshot of the bridge and link counters.
func (b *Bridge) Stats() Stats {
	stats := b.stats.snapshot()
	if b.dependencies.MeshStats != nil {
		mesh := b.dependencies.MeshStats()
		stats.Mesh = &mesh
	}
	if b.dependencies.GatewayStats != nil {
		gateway := b.dependencies.GatewayStats()
		stats.Gateway = &gateway
	}
	return stats
}

// consumeMesh drains one mesh session. It is called from the mesh
// supervisor goroutine.
func (b *Bridge) consumeMesh(session MeshSession) {
	b.consumers.Go(func() {
		for message := range session.Messages() {
			b.fromMesh(message)
		}
	})
}

// consumeChat drains one gateway session.
func (b *Bridge) consumeChat(session ChatSession) {
	b.consumers.Go(func() {
		for message := range session.Messages() {
			b.fromChat(b.ctx, message)
		}
	})
}

func (b *Bridge) dropped(reason DropReason, attributes ...any) {
	b.stats.drop(reason)
	b.logger.Warn("dropped message", append([]any{"reason", string(reason)}, attributes...)...)
}

func (b *Bridge) statsLoop(ctx context.Context) {
	ticker := b.clock.NewTicker(b.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStats(b.logger, b.Stats())
		}
	}
}

// isShutdown reports whether err is the run context ending rather than
// a failure worth counting.
func isShutdown(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
