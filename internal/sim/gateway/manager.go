package gateway

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"delvecraft.io/internal/sim/dungeon"
	"delvecraft.io/internal/telemetry"
)

// GatewayRoomID identifies the fixed shared entry room. Agents without an
// instance tag are located here; dissolve evacuates occupants here.
const GatewayRoomID = "GATEWAY"

// Notifier delivers narrative output to an agent. Message content is owned
// by the caller side; the manager only decides who is told and when.
type Notifier interface {
	Notify(agent, message string)
}

type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}

// Journal records lifecycle events off the traversal hot path.
// Implementations must not block.
type Journal interface {
	InstanceCreated(id, direction string)
	RoomMaterialized(id string, x, y, depth int)
	InstanceDissolved(id, reason string, rooms int)
	Eviction(instanceID, agent string)
}

// Archiver receives the final graph of a dissolved instance.
type Archiver interface {
	ArchiveInstance(e dungeon.Export) error
}

type binding struct {
	instanceID string
	boundUntil time.Time
}

// Deps carries the manager's collaborators; nil fields get no-op defaults
// except Factory, which is required.
type Deps struct {
	Factory  dungeon.ContentFactory
	Notifier Notifier
	Journal  Journal
	Archive  Archiver
	Logger   *log.Logger
	Now      func() time.Time
}

// Manager owns the entry gateway's four direction bindings, the registry of
// live instances, and the occupant directory. The reaper and reset sweeps
// run as background loops until Close.
type Manager struct {
	cfg      Config
	factory  dungeon.ContentFactory
	notifier Notifier
	journal  Journal
	archive  Archiver
	logger   *log.Logger
	now      func() time.Time

	mu        sync.RWMutex
	bindings  [4]binding
	instances map[string]*dungeon.Instance
	occupants map[string]string // agent -> instance id; never an ownership edge
	rng       *rand.Rand
	seedSeq   int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("gateway: nil content factory")
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lmicroseconds)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m := &Manager{
		cfg:       cfg,
		factory:   deps.Factory,
		notifier:  deps.Notifier,
		journal:   deps.Journal,
		archive:   deps.Archive,
		logger:    deps.Logger,
		now:       deps.Now,
		instances: map[string]*dungeon.Instance{},
		occupants: map[string]string{},
		rng:       rand.New(rand.NewSource(seed)),
		stop:      make(chan struct{}),
	}
	m.wg.Add(2)
	go m.reaperLoop()
	go m.resetLoop()
	return m, nil
}

// Close stops the background sweeps. Live instances are left as they are.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

func (m *Manager) Config() Config { return m.cfg }

// SetNotifier swaps the eviction notifier. Used to wire the transport in
// after the manager exists; safe while sweeps are running.
func (m *Manager) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// Stats is a point-in-time summary for metrics exposition.
type Stats struct {
	Instances       int
	Occupants       int
	BoundDirections int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Instances: len(m.instances), Occupants: len(m.occupants)}
	for _, b := range m.bindings {
		if b.instanceID != "" {
			s.BoundDirections++
		}
	}
	return s
}

// Traverse handles an agent stepping through one of the gateway's cardinal
// passages. An unbound direction spawns a fresh instance and binds the
// passage to its origin room for the join window; a live binding admits the
// agent into the existing instance. Never fails for policy reasons.
func (m *Manager) Traverse(ctx context.Context, dir dungeon.Direction, agent string) (*dungeon.RoomNode, error) {
	ctx, span := telemetry.Tracer("gateway").Start(ctx, "gateway.traverse")
	defer span.End()
	span.SetAttributes(
		attribute.String("delve.direction", dir.String()),
		attribute.String("delve.agent", agent),
	)

	m.mu.Lock()
	b := m.bindings[dir]
	if b.instanceID != "" {
		if inst := m.instances[b.instanceID]; inst != nil {
			// The origin must be read while m.mu is held: DissolveInstance
			// unregisters the instance under m.mu before it drops the room
			// arena, so a still-registered instance cannot lose its origin
			// out from under us.
			if origin := inst.Origin(); origin != nil {
				m.occupants[agent] = inst.ID()
				m.mu.Unlock()
				inst.Touch()
				span.SetAttributes(attribute.String("delve.instance_id", inst.ID()), attribute.Bool("delve.joined_existing", true))
				return origin, nil
			}
		}
		// The bound instance is gone; treat the direction as unbound.
	}
	inst, err := m.spawnLocked(ctx, dir)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.occupants[agent] = inst.ID()
	m.mu.Unlock()

	span.SetAttributes(attribute.String("delve.instance_id", inst.ID()), attribute.Bool("delve.joined_existing", false))
	m.logger.Printf("direction %s bound to new instance %s (agent %s)", dir, inst.ID(), agent)
	return inst.Origin(), nil
}

func (m *Manager) spawnLocked(ctx context.Context, dir dungeon.Direction) (*dungeon.Instance, error) {
	id := uuid.NewString()
	m.seedSeq++
	inst, err := dungeon.New(ctx, dungeon.Params{
		ID:      id,
		Config:  m.cfg.Generation(),
		Factory: m.factory,
		Rand:    rand.New(rand.NewSource(m.rng.Int63() ^ m.seedSeq)),
		Now:     m.now,
		Logger:  m.logger,
		OnMaterialize: func(at dungeon.Coord, depth int) {
			if m.journal != nil {
				m.journal.RoomMaterialized(id, at.X, at.Y, depth)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("spawn instance: %w", err)
	}
	m.instances[id] = inst
	m.bindings[dir] = binding{instanceID: id, boundUntil: m.now().Add(m.cfg.JoinWindow())}
	if m.journal != nil {
		m.journal.InstanceCreated(id, dir.String())
	}
	return inst, nil
}

// Reset unconditionally rebinds the direction to "unbound". Idempotent and
// callable at any time; the bound instance, if any, is untouched.
func (m *Manager) Reset(dir dungeon.Direction) {
	m.mu.Lock()
	m.bindings[dir] = binding{}
	m.mu.Unlock()
}

// Binding reports the direction's current instance binding, if any.
func (m *Manager) Binding(dir dungeon.Direction) (instanceID string, boundUntil time.Time, bound bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.bindings[dir]
	return b.instanceID, b.boundUntil, b.instanceID != ""
}

// Tag records the agent as an occupant of the instance.
func (m *Manager) Tag(agent, instanceID string) {
	m.mu.Lock()
	m.occupants[agent] = instanceID
	m.mu.Unlock()
}

// Untag clears the agent's occupant relation, relocating it to the gateway.
func (m *Manager) Untag(agent string) {
	m.mu.Lock()
	delete(m.occupants, agent)
	m.mu.Unlock()
}

// Occupants lists the agents currently tagged to the instance, sorted.
func (m *Manager) Occupants(instanceID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for agent, id := range m.occupants {
		if id == instanceID {
			out = append(out, agent)
		}
	}
	sort.Strings(out)
	return out
}

// Locate resolves the agent's position. A tag referencing an already
// dissolved instance is cleared on the spot and the agent reported at the
// gateway; the stale reference never surfaces as an error.
func (m *Manager) Locate(agent string) (inst *dungeon.Instance, atGateway bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.occupants[agent]
	if !ok {
		return nil, true
	}
	inst = m.instances[id]
	if inst == nil || inst.Dissolved() {
		delete(m.occupants, agent)
		return nil, true
	}
	return inst, false
}

func (m *Manager) Instance(id string) (*dungeon.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) InstanceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.instances))
	for id := range m.instances {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

const evictionMessage = "The delve collapses around you. You stumble back through the gateway."

// DissolveInstance evacuates every occupant to the gateway, drops the
// instance's graph, and unregisters it. Idempotent; dissolving an unknown id
// is a no-op.
func (m *Manager) DissolveInstance(ctx context.Context, id, reason string) error {
	_, span := telemetry.Tracer("gateway").Start(ctx, "gateway.dissolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("delve.instance_id", id),
		attribute.String("delve.reason", reason),
	)

	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.instances, id)
	var evicted []string
	for agent, iid := range m.occupants {
		if iid == id {
			evicted = append(evicted, agent)
			delete(m.occupants, agent)
		}
	}
	for d := range m.bindings {
		if m.bindings[d].instanceID == id {
			m.bindings[d] = binding{}
		}
	}
	notifier := m.notifier
	m.mu.Unlock()
	sort.Strings(evicted)

	export := inst.Dissolve()
	for _, agent := range evicted {
		notifier.Notify(agent, evictionMessage)
		if m.journal != nil {
			m.journal.Eviction(id, agent)
		}
	}
	if m.archive != nil {
		if err := m.archive.ArchiveInstance(export); err != nil {
			m.logger.Printf("archive instance %s: %v", id, err)
		}
	}
	if m.journal != nil {
		m.journal.InstanceDissolved(id, reason, len(export.Rooms))
	}
	span.SetAttributes(attribute.Int("delve.rooms", len(export.Rooms)), attribute.Int("delve.evicted", len(evicted)))
	m.logger.Printf("instance %s dissolved (%s): %d rooms, %d occupants evicted", id, reason, len(export.Rooms), len(evicted))
	return nil
}
