package dungeon

// RoomContent is the payload produced by the content factory for a newly
// materialized room. The core treats it as opaque; challenge resolution
// happens outside this package and reports back through RoomNode.Clear.
type RoomContent struct {
	Title       string
	Description string
	Challenge   string
}

// ContentFactory produces room content for a coordinate about to be
// materialized. Implementations may read instance state but must not mutate
// grid topology; the call happens inside the instance's traversal step.
type ContentFactory interface {
	GenerateRoomContent(inst *Instance, depth int, at Coord) RoomContent
}

// Passage is a directed edge from its owning room toward a coordinate.
// Until the destination coordinate is first visited the passage is
// unmaterialized and counts against the instance's unexplored budget.
type Passage struct {
	Dir    Direction
	To     Coord
	Return bool

	bound bool
}

// Bound reports whether the destination coordinate has been materialized.
func (p *Passage) Bound() bool { return p.bound }

// RoomNode is a graph vertex owned exclusively by its instance; it is
// destroyed only when the instance dissolves.
type RoomNode struct {
	inst     *Instance
	at       Coord
	content  RoomContent
	cleared  bool
	passages [4]*Passage
}

func (r *RoomNode) At() Coord            { return r.at }
func (r *RoomNode) Depth() int           { return r.at.Depth() }
func (r *RoomNode) Content() RoomContent { return r.content }
func (r *RoomNode) Instance() *Instance  { return r.inst }

// Cleared reports whether the room's challenge has been resolved.
func (r *RoomNode) Cleared() bool {
	r.inst.mu.Lock()
	defer r.inst.mu.Unlock()
	return r.cleared
}

// Clear marks the room's challenge as resolved. Idempotent; invoked by
// challenge-resolution logic outside the core. Outward passages from an
// uncleared room refuse traversal; the return passage never checks this.
func (r *RoomNode) Clear() {
	r.inst.mu.Lock()
	defer r.inst.mu.Unlock()
	r.cleared = true
	r.inst.touchLocked()
}

// Passage returns the room's passage in the given direction, if any.
func (r *RoomNode) Passage(d Direction) (*Passage, bool) {
	r.inst.mu.Lock()
	defer r.inst.mu.Unlock()
	p := r.passages[d]
	return p, p != nil
}

// Passages returns the room's outgoing passages in direction order.
func (r *RoomNode) Passages() []*Passage {
	r.inst.mu.Lock()
	defer r.inst.mu.Unlock()
	out := make([]*Passage, 0, 4)
	for _, d := range Directions {
		if p := r.passages[d]; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// ReturnPassage returns the room's mandatory passage back toward the room it
// was generated from. The origin room has none.
func (r *RoomNode) ReturnPassage() (*Passage, bool) {
	r.inst.mu.Lock()
	defer r.inst.mu.Unlock()
	for _, p := range r.passages {
		if p != nil && p.Return {
			return p, true
		}
	}
	return nil, false
}
