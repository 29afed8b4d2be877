// Package gossip implements the node's peer-to-peer propagation layer:
// a single Redis pub/sub topic carrying both incrementally-applied
// UpdateMsgs and full-state snapshots, a bounded non-blocking inbound
// queue, and the cold-start/periodic resync logic that keeps a node's
// tree converged with its peers.
package gossip

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// DefaultTopic is the single gossip channel every node publishes to
// and subscribes from.
const DefaultTopic = "state_updates"

// inboxCapacity is the bounded channel size applied to the inbound
// message queue. A full inbox means the consumer can't keep up;
// Bus drops the newest message and logs rather than blocking the
// Redis subscription goroutine.
const inboxCapacity = 100

// PayloadKind disambiguates the two shapes carried on the topic.
type PayloadKind int

const (
	PayloadUpdate PayloadKind = iota
	PayloadFullState
)

// Inbound is one decoded message pulled off the topic, tagged with
// which of the two payload kinds it decoded as.
type Inbound struct {
	Kind       PayloadKind
	Update     txapply.UpdateMsg
	FullState  FullStateSnapshot
	ContentKey string // sha256 of the raw payload, for dedup
}

// FullStateSnapshot is the JSON wire form of a complete account-state
// dump, exchanged during cold-start sync and periodic resync.
type FullStateSnapshot struct {
	Root     string              `json:"root"`
	Accounts []AccountSnapshot   `json:"accounts"`
}

type AccountSnapshot struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	TokenID uint64 `json:"token_id"`
}

// Bus is the Redis-backed pub/sub transport for the state_updates
// topic. It owns a bounded inbox channel; callers drain it with
// Inbox() in a dedicated goroutine.
type Bus struct {
	client *redis.Client
	topic  string
	inbox  chan Inbound

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewClient builds a Redis client the same way the teacher's database
// layer does: accept either a bare "host:port" or a "redis://"/
// "rediss://" URL, parsing credentials and enabling TLS for the
// secure scheme.
func NewClient(addr string) *redis.Client {
	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := url.Parse(addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("[GOSSIP] failed to parse redis URL, falling back to literal addr")
			opts.Addr = addr
		} else {
			opts.Addr = parsed.Host
			if parsed.User != nil {
				opts.Username = parsed.User.Username()
				if pw, ok := parsed.User.Password(); ok {
					opts.Password = pw
				}
			}
			if parsed.Scheme == "rediss" {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	} else {
		opts.Addr = addr
	}
	return redis.NewClient(opts)
}

// NewBus wraps an already-constructed Redis client. topic defaults to
// DefaultTopic when empty.
func NewBus(client *redis.Client, topic string) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bus{
		client: client,
		topic:  topic,
		inbox:  make(chan Inbound, inboxCapacity),
		seen:   make(map[string]time.Time),
	}
}

// Inbox returns the channel callers should range over to consume
// decoded gossip messages.
func (b *Bus) Inbox() <-chan Inbound { return b.inbox }

// PublishUpdate marshals and publishes an UpdateMsg to the topic.
func (b *Bus) PublishUpdate(ctx context.Context, u txapply.UpdateMsg) error {
	data, err := json.Marshal(u)
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "marshal update for publish", err)
	}
	if err := b.client.Publish(ctx, b.topic, data).Err(); err != nil {
		return volterr.Wrap(volterr.KindNetwork, "publish update", err)
	}
	return nil
}

// PublishFullState marshals and publishes a full-state snapshot, used
// for the periodic resync broadcast. (A peer's get_full_state request
// is answered over RPC, not through the bus.)
func (b *Bus) PublishFullState(ctx context.Context, snap FullStateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "marshal full state for publish", err)
	}
	if err := b.client.Publish(ctx, b.topic, data).Err(); err != nil {
		return volterr.Wrap(volterr.KindNetwork, "publish full state", err)
	}
	return nil
}

// Run subscribes to the topic and feeds decoded, deduplicated messages
// into the bounded inbox until ctx is cancelled. A full inbox drops
// the incoming message rather than blocking the subscription's
// receive loop, per the non-blocking back-pressure policy the gossip
// layer is required to implement.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleRaw(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bus) handleRaw(ctx context.Context, payload []byte) {
	key := contentKey(payload)
	if b.markSeen(key) {
		return // already processed this exact payload
	}

	inbound, ok := decode(payload, key)
	if !ok {
		log.Warn().Msg("[GOSSIP] received payload that decodes as neither UpdateMsg nor FullState")
		return
	}

	select {
	case b.inbox <- inbound:
	default:
		log.Warn().Str("topic", b.topic).Msg("[GOSSIP] inbox full, dropping message")
	}
}

// decode tries UpdateMsg first, then FullStateSnapshot, matching the
// wire convention: the two payload shapes are disambiguated purely by
// which one successfully unmarshals with its required fields present.
func decode(payload []byte, key string) (Inbound, bool) {
	var u txapply.UpdateMsg
	if err := json.Unmarshal(payload, &u); err == nil && u.Msg.From != "" && u.Root != "" {
		return Inbound{Kind: PayloadUpdate, Update: u, ContentKey: key}, true
	}
	var snap FullStateSnapshot
	if err := json.Unmarshal(payload, &snap); err == nil && snap.Root != "" {
		return Inbound{Kind: PayloadFullState, FullState: snap, ContentKey: key}, true
	}
	return Inbound{}, false
}

func contentKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return string(sum[:])
}

// markSeen records key as processed and reports whether it had
// already been seen. Dedup entries aren't garbage-collected: the map's size is bounded in practice by gossip traffic volume over
// a node's uptime, not by unbounded growth from an attacker (a
// replayed payload only ever adds one entry, never more).
func (b *Bus) markSeen(key string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seen[key]; ok {
		return true
	}
	b.seen[key] = time.Now()
	return false
}
