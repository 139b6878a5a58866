package dungeon

import (
	"context"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"

	"delvecraft.io/internal/telemetry"
)

// materializeLocked creates the room at the target coordinate, wires its
// mandatory return passage, and rolls its outward exits under the global
// unexplored budget. Callers hold i.mu and have already adjusted the
// unexplored counter for the passage being crossed.
func (i *Instance) materializeLocked(ctx context.Context, at Coord, entry Direction, hasEntry bool) *RoomNode {
	tracer := telemetry.Tracer("dungeon")
	_, span := tracer.Start(ctx, "instance.materialize")
	defer span.End()

	// The factory may read instance state but must not mutate grid topology.
	content := i.factory.GenerateRoomContent(i, at.Depth(), at)

	room := &RoomNode{inst: i, at: at, content: content}
	i.grid[at] = cell{state: cellMaterialized, room: len(i.rooms)}
	i.rooms = append(i.rooms, room)

	if hasEntry {
		back := entry.Reverse()
		room.passages[back] = &Passage{Dir: back, To: at.Add(back), Return: true, bound: true}
	}

	budget := exitBudget(i.unexplored, i.cfg.MaxUnexploredExits, i.cfg.MaxNewExitsPerRoom)
	k := chooseExitCount(i.rng, budget, !hasEntry)
	for _, nd := range chooseDirections(i.rng, room, k) {
		target := at.Add(nd)
		if target == Origin {
			// Only return passages may lead back to the gateway origin.
			continue
		}
		switch i.grid[target].state {
		case cellMaterialized:
			// One-way link: the pre-existing room's own passage set is not
			// retroactively updated.
			room.passages[nd] = &Passage{Dir: nd, To: target, bound: true}
		case cellReserved:
			// Another pending passage already owns this frontier coordinate.
			continue
		default:
			i.grid[target] = cell{state: cellReserved}
			room.passages[nd] = &Passage{Dir: nd, To: target}
			i.unexplored++
		}
	}

	span.SetAttributes(
		attribute.String("delve.instance_id", i.id),
		attribute.Int("delve.depth", at.Depth()),
		attribute.Int("delve.rooms", len(i.rooms)),
		attribute.Int("delve.unexplored", i.unexplored),
	)
	if i.onMaterialize != nil {
		i.onMaterialize(at, at.Depth())
	}
	return room
}

// exitBudget is the per-room cap on new outward passages given the current
// global count of unmaterialized ones. Zero means the room is a dead end.
func exitBudget(unexplored, maxUnexplored, maxPerRoom int) int {
	if unexplored >= maxUnexplored {
		return 0
	}
	b := maxUnexplored - unexplored
	if maxPerRoom < b {
		b = maxPerRoom
	}
	return b
}

// chooseExitCount rolls how many outward passages a new room attempts, in
// [0, budget]. The origin room is guaranteed at least one so a fresh
// instance is never an empty dead end.
func chooseExitCount(rng *rand.Rand, budget int, origin bool) int {
	if budget <= 0 {
		return 0
	}
	k := rng.Intn(budget + 1)
	if origin && k == 0 {
		k = 1
	}
	return k
}

// chooseDirections picks up to k distinct directions that do not already
// carry a passage (which excludes the return direction).
func chooseDirections(rng *rand.Rand, room *RoomNode, k int) []Direction {
	cands := make([]Direction, 0, 4)
	for _, d := range Directions {
		if room.passages[d] == nil {
			cands = append(cands, d)
		}
	}
	rng.Shuffle(len(cands), func(a, b int) { cands[a], cands[b] = cands[b], cands[a] })
	if k > len(cands) {
		k = len(cands)
	}
	return cands[:k]
}
