package dungeon

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"
)

type cellState uint8

const (
	cellEmpty cellState = iota
	cellReserved
	cellMaterialized
)

// cell is one slot of the coordinate-indexed arena. Reserved means a pending
// passage owns the coordinate; materialized points into the room arena.
type cell struct {
	state cellState
	room  int
}

// Params configures a new instance.
type Params struct {
	ID      string
	Config  Config
	Factory ContentFactory

	// Rand drives branching decisions; defaults to a time-seeded source.
	// Inject a fixed seed for deterministic delves.
	Rand *rand.Rand
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *log.Logger
	// OnMaterialize, when set, observes every room creation. It runs inside
	// the traversal step and must not call back into the instance.
	OnMaterialize func(at Coord, depth int)
}

// Instance owns one coordinate-indexed grid of rooms and enforces the
// branching policy. All traversal steps against the same instance are
// serialized by its mutex; different instances are fully independent.
type Instance struct {
	id            string
	cfg           Config
	factory       ContentFactory
	rng           *rand.Rand
	now           func() time.Time
	logger        *log.Logger
	onMaterialize func(Coord, int)

	mu           sync.Mutex
	rooms        []*RoomNode // arena; index 0 is the origin room
	grid         map[Coord]cell
	unexplored   int
	createdAt    time.Time
	lastActivity time.Time
	dissolved    bool
}

// New validates the branching config and materializes the origin room at
// (0,0). The origin has no return passage and always receives at least one
// outward exit.
func New(ctx context.Context, p Params) (*Instance, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Factory == nil {
		return nil, fmt.Errorf("instance %s: nil content factory", p.ID)
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = log.New(os.Stdout, "[dungeon] ", log.LstdFlags)
	}

	i := &Instance{
		id:            p.ID,
		cfg:           p.Config,
		factory:       p.Factory,
		rng:           p.Rand,
		now:           p.Now,
		logger:        p.Logger,
		onMaterialize: p.OnMaterialize,
		grid:          map[Coord]cell{},
	}
	i.createdAt = i.now()
	i.lastActivity = i.createdAt

	i.mu.Lock()
	i.materializeLocked(ctx, Origin, North, false)
	i.mu.Unlock()
	return i, nil
}

func (i *Instance) ID() string     { return i.id }
func (i *Instance) Config() Config { return i.cfg }

func (i *Instance) CreatedAt() time.Time { return i.createdAt }

func (i *Instance) LastActivity() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastActivity
}

// Touch records activity without traversing, e.g. when a late agent joins
// through the gateway within the join window.
func (i *Instance) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.touchLocked()
}

func (i *Instance) Dissolved() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dissolved
}

// Origin returns the depth-0 room, or nil once the instance has dissolved.
func (i *Instance) Origin() *RoomNode {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.rooms) == 0 {
		return nil
	}
	return i.rooms[0]
}

// UnexploredCount reports how many passages still point at unmaterialized
// coordinates. It never exceeds Config.MaxUnexploredExits.
func (i *Instance) UnexploredCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unexplored
}

func (i *Instance) RoomCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.rooms)
}

// RoomAt returns the materialized room at the coordinate, if any.
func (i *Instance) RoomAt(c Coord) (*RoomNode, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cl, ok := i.grid[c]
	if !ok || cl.state != cellMaterialized {
		return nil, false
	}
	return i.rooms[cl.room], true
}

// Traverse crosses the passage leaving from in the given direction. Crossing
// a still-unmaterialized passage generates the destination room on the spot.
// The whole step runs as one atomic unit against this instance.
func (i *Instance) Traverse(ctx context.Context, from *RoomNode, dir Direction) (*RoomNode, error) {
	if from == nil || from.inst != i {
		return nil, ErrNoPassage
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dissolved {
		return nil, ErrDissolved
	}
	p := from.passages[dir]
	if p == nil {
		return nil, ErrNoPassage
	}
	// The return passage is always traversable; every other passage requires
	// the room's challenge to be resolved first.
	if !p.Return && !from.cleared {
		return nil, ErrUncleared
	}
	if p.bound {
		cl, ok := i.grid[p.To]
		if !ok || cl.state != cellMaterialized {
			i.logger.Printf("instance %s: bound passage %s from %v has no room at %v", i.id, p.Dir, from.at, p.To)
			return nil, ErrNoPassage
		}
		i.touchLocked()
		return i.rooms[cl.room], nil
	}

	// Frontier crossing. The sentinel check above guards this; a concrete
	// room at the target coordinate is a programming-invariant breach.
	if cl, ok := i.grid[p.To]; ok && cl.state == cellMaterialized {
		i.logger.Printf("instance %s: invariant breach: sentinel passage targets materialized coordinate %v", i.id, p.To)
		return nil, ErrRoomOccupied
	}
	i.unexplored--
	p.bound = true
	room := i.materializeLocked(ctx, p.To, dir, true)
	i.touchLocked()
	return room, nil
}

// Dissolve drops the whole room arena and grid, returning a final export of
// the graph for archival. Idempotent; the second call is a no-op returning an
// empty export. Occupant eviction is handled by the gateway manager.
func (i *Instance) Dissolve() Export {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dissolved {
		return Export{ID: i.id}
	}
	e := i.exportLocked()
	i.dissolved = true
	i.rooms = nil
	i.grid = nil
	i.unexplored = 0
	return e
}

func (i *Instance) touchLocked() {
	if i.dissolved {
		return
	}
	i.lastActivity = i.now()
}
