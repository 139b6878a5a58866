package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"delvecraft.io/internal/sim/dungeon"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testFactory struct{}

func (testFactory) GenerateRoomContent(inst *dungeon.Instance, depth int, at dungeon.Coord) dungeon.RoomContent {
	return dungeon.RoomContent{Title: fmt.Sprintf("room %d,%d", at.X, at.Y)}
}

type recordingNotifier struct {
	mu     sync.Mutex
	agents []string
}

func (n *recordingNotifier) Notify(agent, message string) {
	n.mu.Lock()
	n.agents = append(n.agents, agent)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.agents)
}

func newTestManager(t *testing.T, cfg Config, clock *fakeClock, notifier Notifier) *Manager {
	t.Helper()
	deps := Deps{Factory: testFactory{}, Notifier: notifier}
	if clock != nil {
		deps.Now = clock.Now
	}
	m, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func baseConfig() Config {
	return Config{
		MaxUnexploredExits:        4,
		MaxNewExitsPerRoom:        3,
		JoinWindowSeconds:         60,
		IdleTimeoutSeconds:        600,
		ReaperIntervalSeconds:     30,
		GatewayResetProbability:   1,
		ResetSweepIntervalSeconds: 15,
		Seed:                      1,
	}
}

func TestTraverseSharesInstanceWithinJoinWindow(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, baseConfig(), clock, nil)
	ctx := context.Background()

	first, err := m.Traverse(ctx, dungeon.North, "alice")
	if err != nil {
		t.Fatalf("traverse alice: %v", err)
	}
	clock.Advance(30 * time.Second)
	second, err := m.Traverse(ctx, dungeon.North, "bob")
	if err != nil {
		t.Fatalf("traverse bob: %v", err)
	}
	if first != second {
		t.Fatal("agents within the join window received different origin rooms")
	}
	id := first.Instance().ID()
	occ := m.Occupants(id)
	if len(occ) != 2 || occ[0] != "alice" || occ[1] != "bob" {
		t.Fatalf("occupants = %v", occ)
	}
}

func TestTraverseAfterResetSpawnsFreshInstance(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, baseConfig(), clock, nil)
	ctx := context.Background()

	first, err := m.Traverse(ctx, dungeon.East, "alice")
	if err != nil {
		t.Fatalf("traverse alice: %v", err)
	}

	clock.Advance(61 * time.Second)
	if n := m.ResetSweepOnce(); n != 1 {
		t.Fatalf("reset sweep re-armed %d directions, want 1", n)
	}
	if _, _, bound := m.Binding(dungeon.East); bound {
		t.Fatal("direction still bound after reset")
	}

	third, err := m.Traverse(ctx, dungeon.East, "carol")
	if err != nil {
		t.Fatalf("traverse carol: %v", err)
	}
	if third == first || third.Instance().ID() == first.Instance().ID() {
		t.Fatal("post-reset traversal rejoined the old instance")
	}
}

func TestResetSweepRespectsWindowAndProbability(t *testing.T) {
	clock := newFakeClock()
	cfg := baseConfig()
	cfg.GatewayResetProbability = 0
	m := newTestManager(t, cfg, clock, nil)

	if _, err := m.Traverse(context.Background(), dungeon.South, "alice"); err != nil {
		t.Fatalf("traverse: %v", err)
	}
	// Inside the window: no reset regardless of probability.
	if n := m.ResetSweepOnce(); n != 0 {
		t.Fatalf("reset inside join window: %d", n)
	}
	clock.Advance(2 * time.Minute)
	// Window elapsed but probability zero: the stale door lingers.
	if n := m.ResetSweepOnce(); n != 0 {
		t.Fatalf("reset with zero probability: %d", n)
	}
	if _, _, bound := m.Binding(dungeon.South); !bound {
		t.Fatal("binding dropped despite zero probability")
	}
}

func TestReaperDissolvesIdleInstances(t *testing.T) {
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	m := newTestManager(t, baseConfig(), clock, notifier)
	ctx := context.Background()

	room, err := m.Traverse(ctx, dungeon.West, "alice")
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	id := room.Instance().ID()

	clock.Advance(599 * time.Second)
	if n := m.ReapOnce(ctx); n != 0 {
		t.Fatalf("reaper dissolved %d instances before the timeout", n)
	}
	clock.Advance(2 * time.Second)
	if n := m.ReapOnce(ctx); n != 1 {
		t.Fatalf("reaper dissolved %d instances, want 1", n)
	}

	if _, ok := m.Instance(id); ok {
		t.Fatal("instance still registered after reap")
	}
	if notifier.count() != 1 {
		t.Fatalf("eviction notices = %d, want 1", notifier.count())
	}
	if inst, atGateway := m.Locate("alice"); !atGateway || inst != nil {
		t.Fatal("evicted agent not located at the gateway")
	}
	if room.Instance().Origin() != nil {
		t.Fatal("dissolved instance kept its rooms")
	}
}

func TestDissolveInstanceIdempotent(t *testing.T) {
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	m := newTestManager(t, baseConfig(), clock, notifier)
	ctx := context.Background()

	room, err := m.Traverse(ctx, dungeon.North, "alice")
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	id := room.Instance().ID()

	if err := m.DissolveInstance(ctx, id, "test"); err != nil {
		t.Fatalf("dissolve: %v", err)
	}
	if err := m.DissolveInstance(ctx, id, "test"); err != nil {
		t.Fatalf("second dissolve: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("eviction notices = %d, want exactly 1", notifier.count())
	}
}

func TestTraverseReplacesDissolvedBinding(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, baseConfig(), clock, nil)
	ctx := context.Background()

	first, err := m.Traverse(ctx, dungeon.North, "alice")
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if err := m.DissolveInstance(ctx, first.Instance().ID(), "test"); err != nil {
		t.Fatalf("dissolve: %v", err)
	}
	// The binding was cleared with the dissolve; the direction spawns anew
	// even though the join window has not elapsed.
	second, err := m.Traverse(ctx, dungeon.North, "bob")
	if err != nil {
		t.Fatalf("traverse after dissolve: %v", err)
	}
	if second.Instance().ID() == first.Instance().ID() {
		t.Fatal("traversal bound to a dissolved instance")
	}
}

func TestTraverseNeverYieldsNilRoom(t *testing.T) {
	// A join racing a dissolve must end in one of exactly two outcomes: the
	// old instance's origin, or a freshly spawned one. Never a nil room.
	m := newTestManager(t, baseConfig(), newFakeClock(), nil)
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		if _, err := m.Traverse(ctx, dungeon.North, "scout"); err != nil {
			t.Fatalf("iteration %d: bind: %v", i, err)
		}
		id, _, bound := m.Binding(dungeon.North)
		if !bound {
			t.Fatalf("iteration %d: direction not bound", i)
		}

		var wg sync.WaitGroup
		var room *dungeon.RoomNode
		var terr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			room, terr = m.Traverse(ctx, dungeon.North, "joiner")
		}()
		go func() {
			defer wg.Done()
			_ = m.DissolveInstance(ctx, id, "test")
		}()
		wg.Wait()

		if terr != nil {
			t.Fatalf("iteration %d: traverse: %v", i, terr)
		}
		if room == nil {
			t.Fatalf("iteration %d: traverse returned a nil room with a nil error", i)
		}
		for _, iid := range m.InstanceIDs() {
			_ = m.DissolveInstance(ctx, iid, "test")
		}
	}
}

func TestLocateResolvesStaleTag(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, baseConfig(), clock, nil)
	ctx := context.Background()

	room, err := m.Traverse(ctx, dungeon.North, "alice")
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	inst, atGateway := m.Locate("alice")
	if atGateway || inst == nil || inst.ID() != room.Instance().ID() {
		t.Fatal("agent not located in its instance")
	}

	// Simulate a dissolve that bypassed the manager's eviction pass.
	room.Instance().Dissolve()
	if inst, atGateway := m.Locate("alice"); !atGateway || inst != nil {
		t.Fatal("stale tag not resolved to the gateway")
	}
	// The tag is gone; a second lookup takes the fast path.
	if _, atGateway := m.Locate("alice"); !atGateway {
		t.Fatal("agent still tagged after stale resolution")
	}
}

func TestIndependentDirectionsGetIndependentInstances(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, baseConfig(), clock, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for _, d := range dungeon.Directions {
		room, err := m.Traverse(ctx, d, "agent-"+d.String())
		if err != nil {
			t.Fatalf("traverse %s: %v", d, err)
		}
		id := room.Instance().ID()
		if seen[id] {
			t.Fatalf("direction %s shares an instance", d)
		}
		seen[id] = true
	}
	if got := len(m.InstanceIDs()); got != 4 {
		t.Fatalf("instance count = %d, want 4", got)
	}
}
