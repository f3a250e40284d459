// Package cluster wires the pieces other internal packages leave
// independent — miot reactors, shard event loops, the subscription index and
// the rebalancer — into one running broker: it owns the listener, a Miot and
// a Shard per shard id, the housekeeping tickers, and the ordered shutdown
// sequence the rest of the process drives through Close.
package cluster

import (
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poonai/mymq/internal/message"
	"github.com/poonai/mymq/internal/miot"
	"github.com/poonai/mymq/internal/mqttv5"
	"github.com/poonai/mymq/internal/queue"
	"github.com/poonai/mymq/internal/rebalance"
	"github.com/poonai/mymq/internal/shard"
	"github.com/poonai/mymq/internal/socket"
	"github.com/poonai/mymq/internal/topicindex"
)

// Config bounds the cluster supervisor's shard count and the per-component
// configs it hands down to Shard and Miot.
type Config struct {
	NumShards             int
	Shard                 shard.Config
	Miot                  miot.Config
	OutboundQueueCapacity int
	KeepAliveCheckEvery   time.Duration
	FlushEvery            time.Duration
}

// DefaultConfig uses the same unremarkable defaults as its component configs.
var DefaultConfig = Config{
	NumShards:             4,
	Shard:                 shard.DefaultConfig,
	Miot:                  miot.DefaultConfig,
	OutboundQueueCapacity: 256,
	KeepAliveCheckEvery:   10 * time.Second,
	FlushEvery:            50 * time.Millisecond,
}

// Cluster supervises the fixed set of shards that make up one broker node.
// It is not safe for concurrent Start/Close calls; callers own its lifecycle
// from a single goroutine (typically main).
type Cluster struct {
	cfg         Config
	partitioner rebalance.Partitioner
	topics      *topicindex.Index

	shards map[message.ShardID]*shard.Shard
	miots  map[message.ShardID]*miot.Miot

	listener net.Listener
	tokenSeq atomic.Uint64

	keepAliveTicker *time.Ticker
	flushTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// New builds the shard/Miot fleet and queues, for every shard, the control
// request that wires its peer-routing queues; each shard applies it once
// Start runs its event loop. New does not bind a listener or run any shard
// — call Start for that.
func New(cfg Config, partitioner rebalance.Partitioner) *Cluster {
	c := &Cluster{
		cfg:         cfg,
		partitioner: partitioner,
		topics:      topicindex.New(),
		shards:      make(map[message.ShardID]*shard.Shard),
		miots:       make(map[message.ShardID]*miot.Miot),
		stopCh:      make(chan struct{}),
	}

	for i := 0; i < cfg.NumShards; i++ {
		id := message.ShardID(i)
		sh := shard.New(id, cfg.Shard, c.topics)
		c.shards[id] = sh
		c.miots[id] = miot.New(cfg.Miot, strconv.Itoa(i), queue.NewProducer(sh.Inbound()))
	}

	// Every shard needs a Producer onto every *other* shard's msgRx queue so
	// Routed PUBLISHes and LocalAck advertisements can cross shard boundaries.
	for id, sh := range c.shards {
		peers := make(map[message.ShardID]*queue.Producer[message.Message], len(c.shards)-1)
		for peerID, peerSh := range c.shards {
			if peerID == id {
				continue
			}
			peers[peerID] = queue.NewProducer(peerSh.MsgRx())
		}
		// SetShardQueues waits for the shard's Run loop to answer, and Run
		// only starts in Start, so the request is issued from its own
		// goroutine and is handled as soon as the shard runs.
		go func(id message.ShardID, sh *shard.Shard, peers map[message.ShardID]*queue.Producer[message.Message]) {
			if err := sh.SetShardQueues(peers); err != nil {
				log.Printf("cluster: shard %d: failed to wire peer queues: %v", id, err)
			}
		}(id, sh, peers)
	}

	return c
}

// Start runs every shard's event loop, binds addr, and begins accepting
// connections plus the housekeeping/flush tickers.
func (c *Cluster) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cluster: listen on %s: %w", addr, err)
	}
	c.listener = ln

	for _, sh := range c.shards {
		c.wg.Add(1)
		go func(sh *shard.Shard) {
			defer c.wg.Done()
			sh.Run()
		}(sh)
	}

	c.keepAliveTicker = time.NewTicker(c.cfg.KeepAliveCheckEvery)
	c.wg.Add(1)
	go c.keepAliveLoop()

	c.flushTicker = time.NewTicker(c.cfg.FlushEvery)
	c.wg.Add(1)
	go c.flushLoop()

	c.wg.Add(1)
	go c.acceptLoop()

	return nil
}

// Addr returns the listener's bound address. Only valid after Start.
func (c *Cluster) Addr() string {
	return c.listener.Addr().String()
}

// acceptLoop accepts raw connections and hands each to handleNewConn on its
// own goroutine, so one slow CONNECT never stalls the listener.
func (c *Cluster) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			log.Printf("cluster: accept error: %v", err)
			continue
		}
		go c.handleNewConn(conn)
	}
}

// handleNewConn reads a socket up to its first CONNECT, partitions the
// client onto a shard, registers the connection with that shard's Miot, and
// hands the session off to the shard's control plane. A connection that
// disconnects or sends garbage before CONNECT is simply dropped.
func (c *Cluster) handleNewConn(conn net.Conn) {
	sock := socket.New(conn, c.cfg.Miot.ReadTimeout)

	connectPkt, err := readConnect(sock)
	if err != nil {
		sock.Close()
		return
	}

	shardID := message.ShardID(c.partitioner.Partition(connectPkt.ClientID, uint32(len(c.shards))))
	sh, ok := c.shards[shardID]
	m, mok := c.miots[shardID]
	if !ok || !mok {
		log.Printf("cluster: partitioner produced unknown shard %d for client %q", shardID, connectPkt.ClientID)
		sock.Close()
		return
	}

	token := miot.Token(c.tokenSeq.Add(1))
	mconn := m.Register(token, sock, c.cfg.OutboundQueueCapacity, sh.Waker())

	if err := sh.AddSession(shard.AddSessionArgs{ClientID: connectPkt.ClientID, Conn: mconn, Connect: connectPkt}); err != nil {
		log.Printf("cluster: shard %d: add session for %q failed: %v", shardID, connectPkt.ClientID, err)
		m.Unregister(token)
		sock.Close()
	}
}

// readConnect polls sock's read state machine until a CONNECT arrives, a
// decode error surfaces, or the connection is fatally closed. A client that
// sends any other packet type first is protocol error — MQTT v5 requires
// CONNECT to be the first packet on a fresh connection.
func readConnect(sock *socket.Socket) (*mqttv5.ConnectPacket, error) {
	for {
		packets, _, err := sock.ReadPackets(1)
		if err != nil {
			return nil, err
		}
		for _, p := range packets {
			cp, ok := p.(*mqttv5.ConnectPacket)
			if !ok {
				return nil, fmt.Errorf("cluster: first packet was %s, not CONNECT", p.Type())
			}
			return cp, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// keepAliveLoop periodically asks every shard to disconnect clients that
// have gone silent past their negotiated keep-alive window.
func (c *Cluster) keepAliveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.keepAliveTicker.C:
			for _, sh := range c.shards {
				if err := sh.CheckKeepAlives(); err != nil {
					log.Printf("cluster: keep-alive check failed: %v", err)
				}
			}
		}
	}
}

// flushLoop wakes every shard's poller on a fixed cadence. A shard already
// wakes itself on its own LocalAck ticker and on inbound/peer traffic; this
// loop exists only to bound the worst-case latency of a back_log entry that
// became flushable purely because receive_maximum credit freed up without
// any new inbound activity to trigger a wake.
func (c *Cluster) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.flushTicker.C:
			for _, sh := range c.shards {
				sh.Waker().Wake()
			}
		}
	}
}

// Close shuts the broker down in a fixed order: stop accepting new
// connections, stop the housekeeping ticker, close every shard (in id order,
// so shard shutdown logging reads deterministically), then stop the flush
// ticker and join every goroutine this Cluster started.
func (c *Cluster) Close() error {
	close(c.stopCh)

	var firstErr error
	if c.listener != nil {
		if err := c.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.keepAliveTicker != nil {
		c.keepAliveTicker.Stop()
	}

	ids := make([]message.ShardID, 0, len(c.shards))
	for id := range c.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := c.shards[id].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.flushTicker != nil {
		c.flushTicker.Stop()
	}

	c.wg.Wait()
	return firstErr
}
