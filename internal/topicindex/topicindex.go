// Package topicindex implements the concurrent subscription trie used as an
// opaque collaborator by Session and Shard: Insert, Remove, RemoveClient and
// Match are its entire surface. Internally it is a level-by-level trie keyed on topic
// segments, with splitTopic/topicMatch-style wildcard semantics (`+`
// single-level, `#` multi-level).
package topicindex

import (
	"strings"
	"sync"
)

// Subscriber is one (client, shard, option) triple recorded against a
// topic filter.
type Subscriber struct {
	ClientID string
	ShardID  uint32
	QoS      byte
}

// Index is a concurrency-safe subscription trie. Each level of the trie
// guards its own children/subs maps with its own mutex, so inserts and
// matches against disjoint subtrees never contend.
type Index struct {
	root *shardedNode
}

// New creates an empty subscription index.
func New() *Index {
	return &Index{root: newShardedNode()}
}

// shardedNode pairs a trie node with its own lock, so concurrent operations
// against sibling subtrees (e.g. "a/#" vs "b/#") never block each other.
type shardedNode struct {
	mu       sync.Mutex
	children map[string]*shardedNode
	subs     map[string]Subscriber
}

func newShardedNode() *shardedNode {
	return &shardedNode{children: make(map[string]*shardedNode), subs: make(map[string]Subscriber)}
}

func splitFilter(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, "/")
}

// Insert records that sub subscribes to filter. Re-inserting the same
// ClientID at the same filter replaces its prior Subscriber value (matches
// MQTT's "resubscribe updates options" semantics).
func (idx *Index) Insert(filter string, sub Subscriber) {
	levels := splitFilter(filter)
	n := idx.root
	for _, level := range levels {
		n.mu.Lock()
		child, ok := n.children[level]
		if !ok {
			child = newShardedNode()
			n.children[level] = child
		}
		n.mu.Unlock()
		n = child
	}
	n.mu.Lock()
	n.subs[sub.ClientID] = sub
	n.mu.Unlock()
}

// Remove drops clientID's subscription at filter, if any.
func (idx *Index) Remove(filter string, clientID string) {
	levels := splitFilter(filter)
	n := idx.root
	for _, level := range levels {
		n.mu.Lock()
		child, ok := n.children[level]
		n.mu.Unlock()
		if !ok {
			return
		}
		n = child
	}
	n.mu.Lock()
	delete(n.subs, clientID)
	n.mu.Unlock()
}

// RemoveClient drops every subscription clientID holds, across all filters.
// Used on session teardown.
func (idx *Index) RemoveClient(clientID string) {
	idx.root.removeClientRecursive(clientID)
}

func (n *shardedNode) removeClientRecursive(clientID string) {
	n.mu.Lock()
	delete(n.subs, clientID)
	children := make([]*shardedNode, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.mu.Unlock()
	for _, c := range children {
		c.removeClientRecursive(clientID)
	}
}

// Match returns every Subscriber whose filter matches topic, applying the
// standard level-by-level `+`/`#` wildcard rule.
func (idx *Index) Match(topic string) []Subscriber {
	levels := splitFilter(topic)
	var out []Subscriber
	idx.root.match(levels, &out)
	return out
}

func (n *shardedNode) match(levels []string, out *[]Subscriber) {
	n.mu.Lock()
	hash, hasHash := n.children["#"]
	plus, hasPlus := n.children["+"]
	var exact *shardedNode
	var hasExact bool
	if len(levels) > 0 {
		exact, hasExact = n.children[levels[0]]
	}
	if len(levels) == 0 {
		for _, s := range n.subs {
			*out = append(*out, s)
		}
	}
	n.mu.Unlock()

	if hasHash {
		hash.mu.Lock()
		for _, s := range hash.subs {
			*out = append(*out, s)
		}
		hash.mu.Unlock()
	}
	if len(levels) == 0 {
		return
	}
	if hasPlus {
		plus.match(levels[1:], out)
	}
	if hasExact {
		exact.match(levels[1:], out)
	}
}
