// Package miot implements the per-shard I/O reactor: it owns every socket
// hosted on one shard, drives each one's read/write state machine on
// readiness, and hands decoded packets to the shard's inbound queue
// while draining outbound packet queues back out to sockets.
//
// Miot runs one goroutine per socket performing blocking-equivalent
// reads/writes against internal/socket, and reports completed batches back
// to the shard over plain channels, rather than a raw epoll/kqueue poller
// (see DESIGN.md for why).
package miot

import (
	"log"
	"sync"
	"time"

	"github.com/poonai/mymq/internal/metrics"
	"github.com/poonai/mymq/internal/mqttv5"
	"github.com/poonai/mymq/internal/queue"
	"github.com/poonai/mymq/internal/socket"
)

// Token identifies one socket within a shard's Miot.
type Token uint64

// Inbound is one batch of decoded packets read from a connection, destined
// for the shard's single inbound queue shared by all of its connections;
// Token tells the shard which connection the batch came from.
type Inbound struct {
	Token   Token
	Packets []mqttv5.Packet
	Stats   socket.Stats
	Err     error // non-nil means the connection is Disconnected (or a CodecError)
}

// Config bounds one Miot's per-turn work: packet batch size and socket
// timeouts.
type Config struct {
	BatchSize   int
	ReadTimeout time.Duration
	PollEvery   time.Duration
}

// DefaultConfig uses unremarkable defaults: small batches, generous
// timeouts, a fast poll tick since Go's scheduler makes tight per-socket
// goroutines cheap.
var DefaultConfig = Config{
	BatchSize:   32,
	ReadTimeout: 90 * time.Second,
	PollEvery:   10 * time.Millisecond,
}

// Conn is one socket registered with a Miot, plus the bounded outbound
// packet queue the owning shard's session writes into.
type Conn struct {
	Token    Token
	Socket   *socket.Socket
	Outbound   *queue.Queue[mqttv5.Packet]   // consumer side, drained by writeLoop
	OutboundTx *queue.Producer[mqttv5.Packet] // producer side, handed to the owning Shard
}

// Miot owns the sockets for one shard. Register and Unregister may be
// called from any goroutine (the cluster calls them from per-connection
// goroutines); mu guards the connection maps.
type Miot struct {
	cfg        Config
	shardLabel string
	mu         sync.Mutex
	conns      map[Token]*Conn

	inbound *queue.Producer[Inbound] // wakes the shard whenever a batch is ready
	stopCh  map[Token]chan struct{}
}

// New creates a Miot that reports decoded batches to inbound. shardLabel
// tags this Miot's socket-level metrics with its owning shard's id.
func New(cfg Config, shardLabel string, inbound *queue.Producer[Inbound]) *Miot {
	return &Miot{
		cfg:        cfg,
		shardLabel: shardLabel,
		conns:      make(map[Token]*Conn),
		inbound:    inbound,
		stopCh:     make(map[Token]chan struct{}),
	}
}

// Register starts driving sock's read and write state machines in their own
// goroutines, reporting read batches through inbound and draining outbound
// into the socket's write path.
func (m *Miot) Register(token Token, sock *socket.Socket, outboundCapacity int, waker *queue.Waker) *Conn {
	outbound := queue.New[mqttv5.Packet](outboundCapacity, waker)
	c := &Conn{Token: token, Socket: sock, Outbound: outbound, OutboundTx: queue.NewProducer(outbound)}
	stop := make(chan struct{})
	m.mu.Lock()
	m.conns[token] = c
	m.stopCh[token] = stop
	m.mu.Unlock()
	go m.readLoop(c, stop)
	go m.writeLoop(c, stop)
	return c
}

// Unregister stops the goroutines driving token's socket and releases it.
func (m *Miot) Unregister(token Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stopCh[token]; ok {
		close(stop)
		delete(m.stopCh, token)
	}
	delete(m.conns, token)
}

func (m *Miot) readLoop(c *Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			packets, stats, err := c.Socket.ReadPackets(m.cfg.BatchSize)
			if len(packets) == 0 && err == nil {
				continue
			}
			rest, status := m.inbound.TrySends([]Inbound{{Token: c.Token, Packets: packets, Stats: stats, Err: err}})
			if status == queue.Block {
				// The shard hasn't drained its previous batch yet; hold
				// this one and retry next tick rather than dropping it.
				for status == queue.Block {
					time.Sleep(time.Millisecond)
					rest, status = m.inbound.TrySends(rest)
				}
			}
			// Signal the shard's waker now that a batch landed. The
			// producer handle is long-lived, not actually dropped; Close
			// only resets its send-count and fires the wake, which is
			// exactly the notification a fresh "drop" would have done.
			m.inbound.Close()
			if err != nil {
				return
			}
		}
	}
}

func (m *Miot) writeLoop(c *Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			batch, status := c.Outbound.TryRecvs(m.cfg.BatchSize)
			if len(batch) == 0 {
				if status == queue.Disconnected {
					return
				}
				continue
			}
			stats, err := c.Socket.WritePackets(batch)
			metrics.BytesSent.WithLabelValues(m.shardLabel).Add(float64(stats.Bytes))
			if err != nil {
				log.Printf("miot: write error on token %d: %v", c.Token, err)
				return
			}
		}
	}
}
