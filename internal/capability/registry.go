// Package capability advertises which synthesis backends a narrator node
// offers and keeps a view of its peers.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	CapabilityPipeline = "narration.pipeline"
	CapabilityLocal    = "tts.local"
	CapabilityRemote   = "tts.remote"
)

// Peers silent for this many heartbeat timeouts are dropped.
const forgetAfterTimeouts = 10

type NodeInfo struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"`
	Capabilities []protocol.Capability `json:"capabilities"`
	InFlight     int                   `json:"in_flight"`
	LastSeen     time.Time             `json:"last_seen"`
	Healthy      bool                  `json:"healthy"`
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLoad reports the node's in-flight narration count in heartbeats.
func WithLoad(load func() int) Option {
	return func(r *Registry) { r.load = load }
}

// Registry announces this node's synthesis backends and tracks its peers.
type Registry struct {
	cfg    config.NodeConfig
	bus    *bus.Client
	log    *slog.Logger
	load   func() int
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription

	mu    sync.RWMutex
	self  []protocol.Capability
	nodes map[string]*NodeInfo
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, capabilities []protocol.Capability, log *slog.Logger, opts ...Option) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		bus:    busClient,
		log:    log.With(slog.String("component", "capability-registry")),
		cancel: cancel,
		self:   capabilities,
		nodes:  make(map[string]*NodeInfo),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slogError(err))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run publishes heartbeats and ages peers until ctx ends.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
		case now := <-health.C:
			r.evaluateHealth(now)
		}
	}
}

// SetCapabilities replaces what this node advertises and re-announces it
// when it changed.
func (r *Registry) SetCapabilities(capabilities []protocol.Capability) error {
	r.mu.Lock()
	if reflect.DeepEqual(r.self, capabilities) {
		r.mu.Unlock()
		return nil
	}
	r.self = capabilities
	r.mu.Unlock()

	r.log.Info("capabilities changed", slog.Int("count", len(capabilities)))
	return r.announce()
}

func (r *Registry) announce() error {
	r.mu.RLock()
	caps := append([]protocol.Capability(nil), r.self...)
	r.mu.RUnlock()

	msg := protocol.NodeAnnouncement{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: caps,
		Timestamp:    time.Now().UTC(),
	}
	r.observe(msg.NodeID, msg.Role, caps, 0, msg.Timestamp)
	return r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg)
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.NodeHeartbeat{
		NodeID:    r.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	if r.load != nil {
		msg.InFlight = r.load()
	}
	return r.bus.PublishJSON(fmt.Sprintf("%s.%s", protocol.SubjectNodeHeartbeat, r.cfg.ID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slogError(err))
		return
	}
	if announcement.NodeID == "" || announcement.NodeID == r.cfg.ID {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.observe(announcement.NodeID, announcement.Role, announcement.Capabilities, 0, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.observe(hb.NodeID, "", nil, hb.InFlight, hb.Timestamp)
}

// observe records that nodeID was heard from. Heartbeats carry no role or
// capabilities, so empty values keep what the announcement said.
func (r *Registry) observe(nodeID, role string, capabilities []protocol.Capability, inFlight int, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
		if nodeID != r.cfg.ID {
			r.log.Info("peer discovered", slog.String("node_id", nodeID))
		}
	}
	if role != "" {
		node.Role = role
	}
	if capabilities != nil {
		node.Capabilities = capabilities
	}
	node.InFlight = inFlight
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for id, node := range r.nodes {
		silent := now.Sub(node.LastSeen)
		if id != r.cfg.ID && silent > forgetAfterTimeouts*timeout {
			delete(r.nodes, id)
			r.log.Info("peer forgotten", slog.String("node_id", id))
			continue
		}
		if silent > timeout && node.Healthy {
			node.Healthy = false
			r.log.Warn("node missed heartbeats", slog.String("node_id", id))
		}
	}
}

// Healthy reports whether this node's own heartbeats are arriving.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns the known nodes matching filter, ordered by id.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		snapshot := *node
		if filter == nil || filter(snapshot) {
			results = append(results, snapshot)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// LocalCapabilities returns what this node currently advertises.
func (r *Registry) LocalCapabilities() []protocol.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.Capability(nil), r.self...)
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-narrator/internal/capability")
	nodes, err := meter.Int64ObservableGauge("narrator.nodes", metric.WithDescription("Known narrator nodes"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("narrator.nodes.healthy", metric.WithDescription("Narrator nodes with recent heartbeats"))
	if err != nil {
		return err
	}
	inFlight, err := meter.Int64ObservableGauge("narrator.nodes.in_flight", metric.WithDescription("Narrations in flight across known nodes"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var up, busy int64
		for _, node := range r.nodes {
			if node.Healthy {
				up++
			}
			busy += int64(node.InFlight)
		}
		obs.ObserveInt64(nodes, int64(len(r.nodes)))
		obs.ObserveInt64(healthy, up)
		obs.ObserveInt64(inFlight, busy)
		return nil
	}, nodes, healthy, inFlight)
	return err
}

// WithCapabilityFilter matches nodes advertising name.
func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

// Backends describes which synthesis backends a node offers.
type Backends struct {
	LocalAvailable  bool
	LocalLanguages  []string
	LocalVoices     []string
	RemoteEndpoint  string
	RemoteVoices    []string
	RemoteReachable bool
}

// Describe turns the node's backend availability into advertised capabilities.
func Describe(b Backends) []protocol.Capability {
	caps := []protocol.Capability{{Name: CapabilityPipeline}}
	if b.LocalAvailable {
		caps = append(caps, protocol.Capability{
			Name: CapabilityLocal,
			Attributes: map[string]string{
				"languages": strings.Join(b.LocalLanguages, ","),
				"voices":    strings.Join(b.LocalVoices, ","),
			},
		})
	}
	if b.RemoteEndpoint != "" {
		caps = append(caps, protocol.Capability{
			Name: CapabilityRemote,
			Attributes: map[string]string{
				"languages": "japanese",
				"endpoint":  b.RemoteEndpoint,
				"voices":    strings.Join(b.RemoteVoices, ","),
				"reachable": strconv.FormatBool(b.RemoteReachable),
			},
		})
	}
	return caps
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
