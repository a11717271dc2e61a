package ds

// ArenaList is an intrusive doubly linked list over a caller-owned
// arena indexed by int, keeping hot metadata in contiguous arrays
// rather than pointer graphs: big-page free/partial/full/per-color
// membership is expressed as link entries keyed by an arena index
// rather than a separately heap-allocated node.
// A detached node has Prev == Next == -1 (see NewDetachedLink); the
// zero value of Link is not detached.
type Link struct {
	Prev, Next int
}

// NewDetachedLink returns a Link that is not a member of any list.
func NewDetachedLink() Link {
	return Link{Prev: -1, Next: -1}
}

// ArenaList threads a doubly linked, possibly-empty list through
// links[i] for i in the arena. head/tail are arena indices, or -1 when
// the list is empty.
type ArenaList struct {
	links       []Link
	head, tail  int
}

// NewArenaList builds an empty list over an arena whose links slice is
// sized by the caller (len(links) == arena capacity). All entries start
// detached.
func NewArenaList(links []Link) *ArenaList {
	for i := range links {
		links[i] = NewDetachedLink()
	}
	return &ArenaList{links: links, head: -1, tail: -1}
}

func (l *ArenaList) Head() int { return l.head }
func (l *ArenaList) Tail() int { return l.tail }
func (l *ArenaList) Empty() bool { return l.head == -1 }

func (l *ArenaList) Next(i int) int { return l.links[i].Next }
func (l *ArenaList) Prev(i int) int { return l.links[i].Prev }

// PushFront links arena index i at the head of the list. i must be
// currently detached.
func (l *ArenaList) PushFront(i int) {
	l.links[i].Prev = -1
	l.links[i].Next = l.head
	if l.head != -1 {
		l.links[l.head].Prev = i
	}
	l.head = i
	if l.tail == -1 {
		l.tail = i
	}
}

// PushBack links arena index i at the tail of the list. i must be
// currently detached.
func (l *ArenaList) PushBack(i int) {
	l.links[i].Next = -1
	l.links[i].Prev = l.tail
	if l.tail != -1 {
		l.links[l.tail].Next = i
	}
	l.tail = i
	if l.head == -1 {
		l.head = i
	}
}

// Remove unlinks arena index i from the list and marks it detached. i
// must currently be a member of this list.
func (l *ArenaList) Remove(i int) {
	prev, next := l.links[i].Prev, l.links[i].Next
	if prev != -1 {
		l.links[prev].Next = next
	} else {
		l.head = next
	}
	if next != -1 {
		l.links[next].Prev = prev
	} else {
		l.tail = prev
	}
	l.links[i] = NewDetachedLink()
}

// Each iterates the list head to tail, calling fn with each arena
// index, stopping early if fn returns false.
func (l *ArenaList) Each(fn func(i int) bool) {
	for i := l.head; i != -1; i = l.links[i].Next {
		if !fn(i) {
			return
		}
	}
}
