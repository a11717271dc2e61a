package ds

// BiMap is a bidirectional one-to-one map between a label type K and a
// dense vertex-index type V, used by the graph builder to map vertex
// labels to dense indices and back: forward lookup (label to vertex)
// and reverse lookup (vertex to label) are both O(1) and always kept
// consistent.
type BiMap[K comparable, V comparable] struct {
	fwd map[K]V
	rev map[V]K
}

func NewBiMap[K comparable, V comparable]() *BiMap[K, V] {
	return &BiMap[K, V]{fwd: make(map[K]V), rev: make(map[V]K)}
}

// Put associates k and v, replacing any prior association either had.
func (b *BiMap[K, V]) Put(k K, v V) {
	if oldV, ok := b.fwd[k]; ok {
		delete(b.rev, oldV)
	}
	if oldK, ok := b.rev[v]; ok {
		delete(b.fwd, oldK)
	}
	b.fwd[k] = v
	b.rev[v] = k
}

func (b *BiMap[K, V]) Forward(k K) (V, bool) {
	v, ok := b.fwd[k]
	return v, ok
}

func (b *BiMap[K, V]) Reverse(v V) (K, bool) {
	k, ok := b.rev[v]
	return k, ok
}

func (b *BiMap[K, V]) Len() int { return len(b.fwd) }

func (b *BiMap[K, V]) DeleteByKey(k K) {
	if v, ok := b.fwd[k]; ok {
		delete(b.fwd, k)
		delete(b.rev, v)
	}
}
