// Package stream publishes reduced batches to remote consumers over a gRPC
// server stream, and provides the matching client.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/pipeline"
	"github.com/banshee-data/visualmesh/internal/monitoring"
)

// ErrNotRunning is returned when publishing to a stopped publisher.
var ErrNotRunning = errors.New("publisher not running")

// DefaultDrainTimeout bounds how long Stop waits for subscribers to read
// the batches still queued for them.
const DefaultDrainTimeout = 10 * time.Second

// Config holds configuration for the batch stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent subscribers
	MaxClients int

	// ClientQueue is the number of batches buffered per subscriber. A full
	// queue holds the broadcaster back until the subscriber catches up.
	ClientQueue int

	// MaxMessageSize bounds a single encoded batch
	MaxMessageSize int

	// DrainTimeout bounds the flush performed by Stop
	DrainTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "localhost:50061",
		MaxClients:     4,
		ClientQueue:    8,
		MaxMessageSize: 64 * 1024 * 1024,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

// Publisher manages the gRPC server and batch fan-out.
type Publisher struct {
	config   Config
	metrics  *monitoring.Metrics
	server   *grpc.Server
	listener net.Listener

	batchCh   chan *BatchMessage
	clients   map[string]*subscriber
	clientsMu sync.RWMutex
	closed    bool // client queues closed; guarded by clientsMu

	// inflight is held shared by every enqueue so Stop can wait them out
	// before the final flush.
	inflight sync.RWMutex

	// Stats
	seq          atomic.Uint64
	clientCount  atomic.Int32
	dropped      atomic.Uint64
	nextClientID atomic.Uint64

	// Lifecycle
	running   atomic.Bool
	stopCh    chan struct{} // closed when Stop begins
	drainCh   chan struct{} // closed once no enqueue can still happen
	broadcast chan struct{} // closed when broadcastLoop returns
	wg        sync.WaitGroup
}

type subscriber struct {
	id      string
	batchCh chan *BatchMessage
	gone    chan struct{} // closed when the stream handler returns
}

// NewPublisher creates a Publisher. metrics may be nil.
func NewPublisher(cfg Config, metrics *monitoring.Metrics) *Publisher {
	if cfg.ClientQueue < 1 {
		cfg.ClientQueue = 1
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	p := &Publisher{
		config:    cfg,
		metrics:   metrics,
		batchCh:   make(chan *BatchMessage, cfg.ClientQueue),
		clients:   make(map[string]*subscriber),
		stopCh:    make(chan struct{}),
		drainCh:   make(chan struct{}),
		broadcast: make(chan struct{}),
	}
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize),
	)
	p.server.RegisterService(&serviceDesc, p)
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. The publisher takes ownership of
// the listener.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		opsf("serving batches on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop refuses further batches, flushes everything already queued to the
// connected subscribers, ends their streams cleanly and stops the server.
// Subscribers that do not read their remaining batches within DrainTimeout
// are cut off.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	// Wait out enqueues that raced with the state change.
	p.inflight.Lock()
	close(p.drainCh)
	p.inflight.Unlock()

	deadline := time.NewTimer(p.config.DrainTimeout)
	defer deadline.Stop()

	done := make(chan struct{})
	go func() {
		<-p.broadcast
		p.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-deadline.C:
		opsf("drain timed out after %s, closing remaining streams", p.config.DrainTimeout)
		p.server.Stop()
		<-done
	}
	p.wg.Wait()
	diagf("stopped after %d batches (%d dropped)", p.seq.Load(), p.dropped.Load())
}

// Publish queues b for every subscriber without blocking: when the
// publisher queue is full the batch is dropped and false is returned.
// Pipeline output goes through Deliver instead.
func (p *Publisher) Publish(b *mesh.Batch) bool {
	if b == nil {
		return false
	}
	p.inflight.RLock()
	defer p.inflight.RUnlock()
	if !p.running.Load() {
		return false
	}
	msg := &BatchMessage{Seq: p.seq.Add(1), Batch: b}
	select {
	case p.batchCh <- msg:
		tracef("queued batch %d: %d examples, %d nodes", msg.Seq, b.Examples(), b.Nodes())
		return true
	default:
		dropped := p.dropped.Add(1)
		p.metrics.StreamDrop()
		opsf("DROPPED batch %d (total dropped: %d), queue full", msg.Seq, dropped)
		return false
	}
}

// Deliver queues b for every subscriber. It waits for at least one
// subscriber to connect and then for room in the publisher queue, so a slow
// consumer holds the pipeline back instead of losing batches. It returns
// ErrNotRunning once Stop has begun and ctx.Err() if ctx ends first.
func (p *Publisher) Deliver(ctx context.Context, b *mesh.Batch) error {
	if b == nil {
		return nil
	}
	if !p.running.Load() {
		return ErrNotRunning
	}
	if p.clientCount.Load() == 0 {
		tracef("holding batch until a subscriber connects")
		if err := p.waitForClients(ctx, 1); err != nil {
			return err
		}
	}

	p.inflight.RLock()
	defer p.inflight.RUnlock()
	if !p.running.Load() {
		return ErrNotRunning
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrNotRunning
	default:
	}
	msg := &BatchMessage{Seq: p.seq.Add(1), Batch: b}
	select {
	case p.batchCh <- msg:
		tracef("queued batch %d: %d examples, %d nodes", msg.Seq, b.Examples(), b.Nodes())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrNotRunning
	}
}

// Sink adapts the publisher to a pipeline sink.
func (p *Publisher) Sink() pipeline.Sink {
	return pipeline.SinkFunc(p.Deliver)
}

// WaitForClients blocks until at least n subscribers are connected.
func (p *Publisher) WaitForClients(ctx context.Context, n int) error {
	return p.waitForClients(ctx, n)
}

func (p *Publisher) waitForClients(ctx context.Context, n int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for int(p.clientCount.Load()) < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrNotRunning
		case <-ticker.C:
		}
	}
	return nil
}

// broadcastLoop distributes batches to all connected subscribers. Once the
// publisher is draining it flushes what is left in the queue and closes the
// subscriber queues, which ends their streams.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	defer close(p.broadcast)

	for {
		select {
		case msg := <-p.batchCh:
			p.fanOut(msg)
		case <-p.drainCh:
			for {
				select {
				case msg := <-p.batchCh:
					p.fanOut(msg)
				default:
					p.closeClients()
					return
				}
			}
		}
	}
}

// fanOut hands msg to every connected subscriber, waiting on full queues.
// A batch that reaches no subscriber is counted as dropped.
func (p *Publisher) fanOut(msg *BatchMessage) {
	p.clientsMu.RLock()
	clients := make([]*subscriber, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clientsMu.RUnlock()

	delivered := 0
	for _, c := range clients {
		select {
		case c.batchCh <- msg:
			delivered++
		case <-c.gone:
		}
	}
	if delivered == 0 {
		dropped := p.dropped.Add(1)
		p.metrics.StreamDrop()
		opsf("DROPPED batch %d (total dropped: %d), no subscribers", msg.Seq, dropped)
	}
}

// closeClients ends every subscriber queue and refuses new subscribers.
func (p *Publisher) closeClients() {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	p.closed = true
	for _, c := range p.clients {
		close(c.batchCh)
	}
}

func (p *Publisher) addClient(name string) (*subscriber, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.closed || !p.running.Load() {
		return nil, status.Error(codes.Unavailable, "publisher stopped")
	}
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "subscriber limit %d reached", p.config.MaxClients)
	}
	id := fmt.Sprintf("%s-%d", name, p.nextClientID.Add(1))
	c := &subscriber{
		id:      id,
		batchCh: make(chan *BatchMessage, p.config.ClientQueue),
		gone:    make(chan struct{}),
	}
	p.clients[id] = c
	p.clientCount.Add(1)
	p.metrics.StreamClientDelta(1)
	diagf("client connected: %s (total: %d)", id, p.clientCount.Load())
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	p.clientCount.Add(-1)
	p.metrics.StreamClientDelta(-1)
	diagf("client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
}

// StreamBatches serves one subscriber until it disconnects or the publisher
// has flushed its last batch to it.
func (p *Publisher) StreamBatches(req *SubscribeRequest, stream grpc.ServerStream) error {
	name := req.ClientName
	if name == "" {
		name = "client"
	}
	c, err := p.addClient(name)
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)
	defer close(c.gone)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.batchCh:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:   p.seq.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published   uint64
	Dropped     uint64
	ClientCount int32
	Running     bool
}
