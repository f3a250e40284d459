// Package shard implements the event loop hosting a fixed set of sessions.
// It admits new connections, assigns InpSeqno to inbound
// PUBLISHes, fans them out to peer shards as Routed messages, applies
// LocalAck bookkeeping to retire acknowledged inbound state, and drives
// each session's outbound back_log/inflight flow control.
package shard

import (
	"log"
	"strconv"
	"time"

	"github.com/poonai/mymq/internal/message"
	"github.com/poonai/mymq/internal/metrics"
	"github.com/poonai/mymq/internal/miot"
	"github.com/poonai/mymq/internal/mqttv5"
	"github.com/poonai/mymq/internal/queue"
	"github.com/poonai/mymq/internal/session"
	"github.com/poonai/mymq/internal/topicindex"
)

// ctrlKind tags which control-plane operation a request carries.
type ctrlKind int

const (
	ctrlAddSession ctrlKind = iota
	ctrlBookSession
	ctrlSetShardQueues
	ctrlCheckKeepAlives
	ctrlClose
)

// AddSessionArgs carries a freshly-accepted connection's CONNECT packet and
// its registered Miot connection.
type AddSessionArgs struct {
	ClientID   string
	Conn       *miot.Conn
	Connect    *mqttv5.ConnectPacket
}

// BookSessionArgs informs a shard that clientID's session now lives on a
// different (already-known) peer shard, so Routed/LocalAck traffic can be
// addressed correctly without a round trip through the cluster supervisor.
type BookSessionArgs struct {
	ClientID string
	ShardID  message.ShardID
}

type ctrlRequest struct {
	kind         ctrlKind
	addSession   AddSessionArgs
	bookSession  BookSessionArgs
	shardQueues  map[message.ShardID]*queue.Producer[message.Message]
	resp         chan error
}

// Config bounds one shard's batching and cadence.
type Config struct {
	InboundBatchSize int
	MsgBatchSize     int
	LocalAckEvery    time.Duration
}

// DefaultConfig provides unremarkable batching defaults.
var DefaultConfig = Config{
	InboundBatchSize: 64,
	MsgBatchSize:     64,
	LocalAckEvery:    50 * time.Millisecond,
}

// Shard is a single-goroutine event loop owning a subset of sessions. Every
// field below is touched only from the Run goroutine; no locks guard them,
// matching a no-locks-per-shard-state model.
type Shard struct {
	ID   message.ShardID
	cfg  Config

	sessions    map[string]*session.Session
	bookedPeers map[string]message.ShardID // clients known to live on another shard
	conns       map[string]*miot.Conn

	topics *topicindex.Index

	ctrlCh  chan ctrlRequest
	closeCh chan struct{}

	waker    *queue.Waker
	inbound  *queue.Queue[miot.Inbound]
	msgRx    *queue.Queue[message.Message]
	peerTx   map[message.ShardID]*queue.Producer[message.Message]

	// inpAcked tracks, per peer shard, the highest contiguous InpSeqno this
	// shard has delivered to local subscribers sourced from that peer —
	// the value published in this shard's own LocalAck.
	inpAcked map[message.ShardID]message.InpSeqno

	// inpSeqno is the single InpSeqno counter for this shard: every PUBLISH
	// admitted from any client this shard hosts draws from it, so the
	// sequence is strictly increasing across all of this shard's
	// publishers, not just within one client's session.
	inpSeqno message.InpSeqno

	ticker *time.Ticker
}

// New creates a shard together with its own inbound queue (exposed by
// Inbound) that Miot reports decoded packet batches into; topics is the
// shared (opaque) subscription index.
func New(id message.ShardID, cfg Config, topics *topicindex.Index) *Shard {
	w := queue.NewWaker()
	return &Shard{
		ID:          id,
		cfg:         cfg,
		sessions:    make(map[string]*session.Session),
		bookedPeers: make(map[string]message.ShardID),
		conns:       make(map[string]*miot.Conn),
		topics:      topics,
		ctrlCh:      make(chan ctrlRequest, 64),
		closeCh:     make(chan struct{}),
		waker:       w,
		inbound:     queue.New[miot.Inbound](256, w),
		msgRx:       queue.New[message.Message](1024, w),
		peerTx:      make(map[message.ShardID]*queue.Producer[message.Message]),
		inpAcked:    make(map[message.ShardID]message.InpSeqno),
		ticker:      time.NewTicker(cfg.LocalAckEvery),
	}
}

// Waker returns the waker that fires whenever this shard has new work:
// Miot inbound delivery, a peer's Routed/LocalAck message, or outbound
// traffic on a hosted connection's queue. Control requests arrive on their
// own channel and do not go through it. Callers (Miot, peer shards, Cluster)
// wake it via the queues'
// waker-on-drop discipline; this accessor exists so they can register
// against the same waker at construction time.
func (sh *Shard) Waker() *queue.Waker { return sh.waker }

// Inbound exposes the queue Miot batches land in.
func (sh *Shard) Inbound() *queue.Queue[miot.Inbound] { return sh.inbound }

// MsgRx exposes the queue peer shards route Message values into.
func (sh *Shard) MsgRx() *queue.Queue[message.Message] { return sh.msgRx }

func (sh *Shard) request(req ctrlRequest) error {
	resp := make(chan error, 1)
	req.resp = resp
	sh.ctrlCh <- req
	return <-resp
}

// AddSession admits args's connection, either as a fresh session or by
// adopting existing session state if CLEAN_START is unset and a session
// for this ClientID already lives on this shard.
func (sh *Shard) AddSession(args AddSessionArgs) error {
	return sh.request(ctrlRequest{kind: ctrlAddSession, addSession: args})
}

// BookSession registers that clientID's session lives on a peer shard.
func (sh *Shard) BookSession(args BookSessionArgs) error {
	return sh.request(ctrlRequest{kind: ctrlBookSession, bookSession: args})
}

// SetShardQueues wires this shard's outbound Message producers, one per
// peer ShardID.
func (sh *Shard) SetShardQueues(queues map[message.ShardID]*queue.Producer[message.Message]) error {
	return sh.request(ctrlRequest{kind: ctrlSetShardQueues, shardQueues: queues})
}

// Close stops the shard's Run loop after it finishes its current turn.
func (sh *Shard) Close() error {
	err := sh.request(ctrlRequest{kind: ctrlClose})
	close(sh.closeCh)
	return err
}

// CheckKeepAlives asks this shard to disconnect every session whose client
// has gone silent past its negotiated keep-alive window. The cluster
// supervisor's housekeeping ticker calls this on every shard periodically.
func (sh *Shard) CheckKeepAlives() error {
	return sh.request(ctrlRequest{kind: ctrlCheckKeepAlives})
}

// Run is the shard's event loop. It must be called from the goroutine that
// will own this shard for its lifetime.
func (sh *Shard) Run() {
	for {
		select {
		case <-sh.closeCh:
			sh.ticker.Stop()
			return
		case req := <-sh.ctrlCh:
			sh.handleCtrl(req)
			continue
		case <-sh.ticker.C:
			sh.publishLocalAcks()
		case <-sh.waker.C():
		}
		sh.drainCtrl()
		sh.drainInbound()
		sh.drainMsgRx()
		sh.flushAllOutbound()
	}
}

func (sh *Shard) drainCtrl() {
	for {
		select {
		case req := <-sh.ctrlCh:
			sh.handleCtrl(req)
		default:
			return
		}
	}
}

func (sh *Shard) handleCtrl(req ctrlRequest) {
	var err error
	switch req.kind {
	case ctrlAddSession:
		err = sh.addSession(req.addSession)
	case ctrlBookSession:
		sh.bookedPeers[req.bookSession.ClientID] = req.bookSession.ShardID
	case ctrlSetShardQueues:
		sh.peerTx = req.shardQueues
	case ctrlCheckKeepAlives:
		sh.checkKeepAlives()
	case ctrlClose:
		for clientID := range sh.sessions {
			sh.topics.RemoveClient(clientID)
		}
	}
	if req.resp != nil {
		req.resp <- err
	}
}

func (sh *Shard) addSession(args AddSessionArgs) error {
	existing, ok := sh.sessions[args.ClientID]
	cleanStart := args.Connect.CleanStart

	// A second CONNECT for a ClientID that still has a live socket is a
	// session takeover: tell the old socket why it's being dropped before
	// the new one claims the ClientID.
	if ok {
		if oldConn, hasConn := sh.conns[args.ClientID]; hasConn && oldConn.Token != args.Conn.Token {
			oldConn.OutboundTx.TrySends([]mqttv5.Packet{&mqttv5.DisconnectPacket{ReasonCode: mqttv5.ReasonSessionTakenOver}})
			oldConn.Outbound.CloseQueue()
		}
	}

	var sess *session.Session
	if ok && !cleanStart {
		sess = existing
		sess.State = session.Active
	} else {
		if ok {
			sh.topics.RemoveClient(args.ClientID)
		}
		recvMax := uint16(session.DefaultReceiveMaximum)
		if args.Connect.Properties.ReceiveMaximum != nil {
			recvMax = *args.Connect.Properties.ReceiveMaximum
		}
		sess = session.New(args.ClientID, sh.ID, recvMax)
		sess.State = session.Active
	}
	sess.KeepAlive = time.Duration(args.Connect.KeepAlive) * time.Second
	sess.TouchActivity(time.Now())
	sh.sessions[args.ClientID] = sess
	sh.conns[args.ClientID] = args.Conn

	shardLabel := sh.label()
	metrics.ConnectionsTotal.WithLabelValues(shardLabel).Inc()
	metrics.ClientsConnected.WithLabelValues(shardLabel).Set(float64(len(sh.sessions)))

	ack := &mqttv5.ConnackPacket{SessionPresent: ok && !cleanStart, ReasonCode: mqttv5.ReasonSuccess}
	sh.deliverClientAck(sess, ack)
	return nil
}

// label renders this shard's ID as a metrics label value.
func (sh *Shard) label() string {
	return strconv.FormatUint(uint64(sh.ID), 10)
}

// nextInpSeqno draws the next value from this shard's single InpSeqno
// counter, shared by every PUBLISH admitted from any session this shard
// hosts.
func (sh *Shard) nextInpSeqno() message.InpSeqno {
	sh.inpSeqno++
	return sh.inpSeqno
}

func (sh *Shard) deliverClientAck(sess *session.Session, pkt mqttv5.Packet) {
	conn, ok := sh.conns[sess.ClientID]
	if !ok {
		return
	}
	rest, status := conn.OutboundTx.TrySends([]mqttv5.Packet{pkt})
	metrics.PacketsSent.WithLabelValues(sh.label(), pkt.Type().String()).Inc()
	if status == queue.Block {
		metrics.QueueBlocked.WithLabelValues(sh.label(), "outbound").Inc()
		log.Printf("shard %d: outbound queue full delivering %s to %s", sh.ID, pkt.Type(), sess.ClientID)
		_ = rest
	}
}

// drainInbound dispatches each packet to its owning session, assigns
// InpSeqno to admitted PUBLISHes, matches the topic index, and enqueues one
// coalesced Routed message per destination shard.
func (sh *Shard) drainInbound() {
	for {
		batch, status := sh.inbound.TryRecvs(sh.cfg.InboundBatchSize)
		for _, in := range batch {
			sh.handleInboundBatch(in)
		}
		if status != queue.Ok {
			return
		}
	}
}

func (sh *Shard) handleInboundBatch(in miot.Inbound) {
	clientID := sh.clientForToken(in.Token)
	sess := sh.sessions[clientID]
	if sess == nil {
		return
	}

	routedByDest := make(map[message.ShardID]*message.Message)
	shardLabel := sh.label()

	if len(in.Packets) > 0 {
		sess.TouchActivity(time.Now())
	}

	for _, pkt := range in.Packets {
		metrics.PacketsReceived.WithLabelValues(shardLabel, pkt.Type().String()).Inc()
		switch p := pkt.(type) {
		case *mqttv5.PublishPacket:
			sh.handleInboundPublish(sess, p, routedByDest)
		case *mqttv5.SubscribePacket:
			sh.handleSubscribe(sess, p)
		case *mqttv5.UnsubscribePacket:
			sh.handleUnsubscribe(sess, p)
		case *mqttv5.PubAckFamily:
			sh.handleAckFromClient(sess, p)
		case *mqttv5.PingreqPacket:
			sh.deliverClientAck(sess, &mqttv5.PingrespPacket{})
		case *mqttv5.DisconnectPacket:
			sh.teardown(sess)
		}
	}

	for shardID, msg := range routedByDest {
		sh.routeToShard(shardID, *msg)
	}

	metrics.BytesReceived.WithLabelValues(shardLabel).Add(float64(in.Stats.Bytes))

	if in.Err != nil {
		sh.teardown(sess)
	}
}

func (sh *Shard) clientForToken(tok miot.Token) string {
	for clientID, conn := range sh.conns {
		if conn.Token == tok {
			return clientID
		}
	}
	return ""
}

func (sh *Shard) handleInboundPublish(sess *session.Session, p *mqttv5.PublishPacket, routedByDest map[message.ShardID]*message.Message) {
	seqno := sh.nextInpSeqno()
	sess.AdmitInbound(p, seqno)

	subs := sh.topics.Match(p.Topic)
	if len(subs) == 0 {
		if p.QoS > mqttv5.QoS0 {
			sh.deliverClientAck(sess, &mqttv5.PubAckFamily{
				PacketType: mqttv5.PUBACK,
				PacketID:   p.PacketID,
				ReasonCode: mqttv5.ReasonNoMatchingSubscribers,
			})
		}
		return
	}

	byShard := make(map[message.ShardID][]message.Subscription)
	for _, sub := range subs {
		sid := message.ShardID(sub.ShardID)
		qos := p.QoS
		if sub.QoS < qos {
			qos = sub.QoS
		}
		byShard[sid] = append(byShard[sid], message.Subscription{ClientID: sub.ClientID, QoS: qos})
	}

	for sid, subscriptions := range byShard {
		msg, ok := routedByDest[sid]
		if !ok {
			msg = &message.Message{
				Kind:          message.KindRouted,
				SrcClientID:   sess.ClientID,
				SrcShardID:    sh.ID,
				InpSeqno:      seqno,
				Publish:       p,
				Subscriptions: nil,
			}
			routedByDest[sid] = msg
		}
		msg.Subscriptions = append(msg.Subscriptions, subscriptions...)
	}
}

func (sh *Shard) handleSubscribe(sess *session.Session, p *mqttv5.SubscribePacket) {
	codes := make([]mqttv5.ReasonCode, len(p.Subscriptions))
	for i, sub := range p.Subscriptions {
		if _, replaced := sess.Subscriptions[sub.Filter]; !replaced {
			metrics.SubscriptionsActive.Inc()
		}
		sh.topics.Insert(sub.Filter, topicindex.Subscriber{ClientID: sess.ClientID, ShardID: uint32(sh.ID), QoS: byte(sub.QoS)})
		sess.Subscriptions[sub.Filter] = session.Subscription{
			Filter: sub.Filter, QoS: sub.QoS, NoLocal: sub.NoLocal, RetainAsPublished: sub.RetainAsPublished,
			SubscriptionID: p.Properties.SubscriptionIdentifier,
		}
		codes[i] = mqttv5.ReasonCode(sub.QoS)
	}
	sh.deliverClientAck(sess, &mqttv5.SubackPacket{PacketID: p.PacketID, ReasonCodes: codes})
}

func (sh *Shard) handleUnsubscribe(sess *session.Session, p *mqttv5.UnsubscribePacket) {
	codes := make([]mqttv5.ReasonCode, len(p.TopicFilters))
	for i, filter := range p.TopicFilters {
		sh.topics.Remove(filter, sess.ClientID)
		if _, existed := sess.Subscriptions[filter]; existed {
			metrics.SubscriptionsActive.Dec()
		}
		delete(sess.Subscriptions, filter)
		codes[i] = mqttv5.ReasonSuccess
	}
	sh.deliverClientAck(sess, &mqttv5.UnsubackPacket{PacketID: p.PacketID, ReasonCodes: codes})
}

func (sh *Shard) handleAckFromClient(sess *session.Session, p *mqttv5.PubAckFamily) {
	if !sess.AcknowledgeOutbound(p.PacketType, p.PacketID) {
		return
	}
	switch p.PacketType {
	case mqttv5.PUBREC:
		sh.deliverClientAck(sess, &mqttv5.PubAckFamily{PacketType: mqttv5.PUBREL, PacketID: p.PacketID, ReasonCode: mqttv5.ReasonSuccess})
	}
}

func (sh *Shard) routeToShard(dest message.ShardID, msg message.Message) {
	if dest == sh.ID {
		// peerTx holds producers for other shards only; a message for this
		// shard is handled in place.
		sh.handlePeerMessage(msg)
		return
	}
	producer, ok := sh.peerTx[dest]
	if !ok {
		return
	}
	rest, status := producer.TrySends([]message.Message{msg})
	producer.Close()
	if status == queue.Block {
		log.Printf("shard %d: peer shard %d backlogged, retrying next turn", sh.ID, dest)
		_ = rest
	}
}

// drainMsgRx receives Routed/LocalAck/
// ClientAck/Packet messages from peers and apply ack bookkeeping.
func (sh *Shard) drainMsgRx() {
	for {
		batch, status := sh.msgRx.TryRecvs(sh.cfg.MsgBatchSize)
		for _, msg := range batch {
			sh.handlePeerMessage(msg)
		}
		if status != queue.Ok {
			return
		}
	}
}

func (sh *Shard) handlePeerMessage(msg message.Message) {
	switch msg.Kind {
	case message.KindRouted:
		sh.handleRouted(msg)
	case message.KindLocalAck:
		sh.handleLocalAck(msg)
	case message.KindClientAck, message.KindPacket:
		// Destination-addressed messages for a session hosted here; resolve
		// the destination client, then hand a ClientAck straight to its
		// socket's outbound queue and enqueue a Packet to its back_log.
		sh.handleDirectToClient(msg)
	}
}

func (sh *Shard) handleRouted(msg message.Message) {
	highest := msg.InpSeqno
	for _, sub := range msg.Subscriptions {
		sess, ok := sh.sessions[sub.ClientID]
		if !ok {
			continue
		}
		pub := *msg.Publish
		pub.QoS = sub.QoS
		pub.PacketID = 0
		if err := sess.Enqueue(&pub); err != nil {
			sh.disconnectQuotaExceeded(sess)
		}
	}
	if msg.InpSeqno > sh.inpAcked[msg.SrcShardID] {
		sh.inpAcked[msg.SrcShardID] = highest
	}
}

func (sh *Shard) handleLocalAck(msg message.Message) {
	for _, sess := range sh.sessions {
		sess.RecordPeerAck(msg.ShardID, msg.LastAcked, time.Now())
		evicted := sess.EvictAcked()
		for packetID, entry := range evicted {
			rc := mqttv5.ReasonSuccess
			pt := mqttv5.PUBACK
			if entry.QoS == mqttv5.QoS2 {
				pt = mqttv5.PUBREC
			}
			sh.deliverClientAck(sess, &mqttv5.PubAckFamily{PacketType: pt, PacketID: packetID, ReasonCode: rc})
		}
	}
}

func (sh *Shard) handleDirectToClient(msg message.Message) {
	sess, ok := sh.sessions[msg.DestClientID]
	if !ok {
		return
	}
	if msg.Kind == message.KindClientAck {
		sh.deliverClientAck(sess, msg.Packet)
		return
	}
	if err := sess.Enqueue(msg.Publish); err != nil {
		sh.disconnectQuotaExceeded(sess)
	}
}

func (sh *Shard) disconnectQuotaExceeded(sess *session.Session) {
	sh.deliverClientAck(sess, &mqttv5.DisconnectPacket{ReasonCode: mqttv5.ReasonQuotaExceeded})
	sh.teardown(sess)
}

// checkKeepAlives tears down every session whose client has gone silent
// past 1.5x its negotiated keep-alive interval.
func (sh *Shard) checkKeepAlives() {
	now := time.Now()
	var expired []*session.Session
	for _, sess := range sh.sessions {
		if sess.KeepAliveExpired(now) {
			expired = append(expired, sess)
		}
	}
	for _, sess := range expired {
		sh.deliverClientAck(sess, &mqttv5.DisconnectPacket{ReasonCode: mqttv5.ReasonKeepAliveTimeout})
		sh.teardown(sess)
	}
}

func (sh *Shard) teardown(sess *session.Session) {
	sess.State = session.Closed
	if conn, ok := sh.conns[sess.ClientID]; ok {
		conn.Outbound.CloseQueue()
	}
	metrics.SubscriptionsActive.Sub(float64(len(sess.Subscriptions)))
	sh.topics.RemoveClient(sess.ClientID)
	delete(sh.sessions, sess.ClientID)
	delete(sh.conns, sess.ClientID)
	metrics.ClientsConnected.WithLabelValues(sh.label()).Set(float64(len(sh.sessions)))
}

// flushAllOutbound moves, for every hosted session, back_log entries into
// inflight up to receive_maximum and hands the ready PUBLISHes to the
// socket's outbound queue.
func (sh *Shard) flushAllOutbound() {
	shardLabel := sh.label()
	var backlog, inflight int
	for clientID, sess := range sh.sessions {
		backlog += len(sess.Out.BackLog)
		inflight += len(sess.Out.Inflight)

		ready := sess.Flush()
		if len(ready) == 0 {
			continue
		}
		conn, ok := sh.conns[clientID]
		if !ok {
			continue
		}
		pkts := make([]mqttv5.Packet, len(ready))
		for i, p := range ready {
			pkts[i] = p
			metrics.PacketsSent.WithLabelValues(shardLabel, p.Type().String()).Inc()
		}
		rest, status := conn.OutboundTx.TrySends(pkts)
		if status == queue.Block {
			metrics.QueueBlocked.WithLabelValues(shardLabel, "outbound").Inc()
			log.Printf("shard %d: socket outbound queue full for %s, %d packets deferred", sh.ID, clientID, len(rest))
		}
	}
	metrics.BackLogLength.WithLabelValues(shardLabel).Set(float64(backlog))
	metrics.InflightMessages.WithLabelValues(shardLabel).Set(float64(inflight))
}

// publishLocalAcks periodically advertises, to every peer shard, the
// highest contiguous InpSeqno this shard has delivered to local subscribers
// sourced from that peer.
func (sh *Shard) publishLocalAcks() {
	for peer, highest := range sh.inpAcked {
		producer, ok := sh.peerTx[peer]
		if !ok {
			continue
		}
		msg := message.Message{Kind: message.KindLocalAck, ShardID: sh.ID, LastAcked: highest}
		producer.TrySends([]message.Message{msg})
		producer.Close()
	}
}
