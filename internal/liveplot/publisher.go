// Package liveplot streams completed sweep rows to live plotting clients
// over gRPC. The publisher fans rows out to any number of subscribers; a
// slow client loses rows rather than stalling the run, so the persisted
// dataset stays the single source of truth.
package liveplot

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/monitoring"
)

// Row is one completed sweep point with its recorded channel values.
type Row struct {
	Coord  dataset.Coord
	Values map[string]float64
}

// Config holds configuration for the live-plot gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051").
	ListenAddr string

	// QueueSize bounds the row queue between the sweep and the broadcaster.
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		QueueSize:  100,
	}
}

// Publisher manages the gRPC server and row fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	rowChan   chan Row
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	schemaMu sync.RWMutex
	schema   *dataset.Schema

	rowCount    atomic.Uint64
	clientCount atomic.Int32
	droppedRows atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id     string
	rowCh  chan Row
	doneCh chan struct{}
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Publisher{
		config:  cfg,
		rowChan: make(chan Row, cfg.QueueSize),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// SetSchema announces the active run's channel layout. New subscribers get
// it as their first message so they can set up axes before rows arrive.
func (p *Publisher) SetSchema(schema dataset.Schema) {
	p.schemaMu.Lock()
	p.schema = &schema
	p.schemaMu.Unlock()
}

func (p *Publisher) currentSchema() *dataset.Schema {
	p.schemaMu.RLock()
	defer p.schemaMu.RUnlock()
	return p.schema
}

// Start binds the listener and starts the gRPC server and broadcaster.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = lis
	p.server = grpc.NewServer()
	registerLivePlotService(p.server, p)
	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[liveplot] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[liveplot] gRPC server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (p *Publisher) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop gracefully stops the server and broadcaster.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	p.wg.Wait()
	monitoring.Logf("[liveplot] stopped after %d rows (%d dropped)", p.rowCount.Load(), p.droppedRows.Load())
}

// PublishRow queues one completed row for fan-out. When the queue is full
// the row is dropped; persistence has already happened upstream.
func (p *Publisher) PublishRow(c dataset.Coord, values map[string]float64) {
	if !p.running.Load() {
		return
	}
	select {
	case p.rowChan <- Row{Coord: c, Values: values}:
		p.rowCount.Add(1)
	default:
		dropped := p.droppedRows.Add(1)
		if dropped%100 == 1 {
			monitoring.Logf("[liveplot] row queue full, dropped %d rows so far", dropped)
		}
	}
}

// broadcastLoop distributes rows to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case row := <-p.rowChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.rowCh <- row:
				default:
					// client is slow, drop the row for this client
					p.droppedRows.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(id string) *clientStream {
	client := &clientStream{
		id:     id,
		rowCh:  make(chan Row, 16),
		doneCh: make(chan struct{}),
	}
	p.clientsMu.Lock()
	p.clients[id] = client
	p.clientsMu.Unlock()
	p.clientCount.Add(1)
	monitoring.Logf("[liveplot] client connected: %s (total: %d)", id, p.clientCount.Load())
	return client
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	client, ok := p.clients[id]
	if ok {
		close(client.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		p.clientCount.Add(-1)
		monitoring.Logf("[liveplot] client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	}
}

// Subscribe registers an in-process consumer. The returned cancel func must
// be called when done. Rows are dropped for consumers that fall behind.
func (p *Publisher) Subscribe(id string) (<-chan Row, func()) {
	client := p.addClient(id)
	return client.rowCh, func() { p.removeClient(id) }
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		RowCount:    p.rowCount.Load(),
		DroppedRows: p.droppedRows.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	RowCount    uint64
	DroppedRows uint64
	ClientCount int32
	Running     bool
}
