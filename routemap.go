package fedcomm

import (
	"sync/atomic"

	rb "github.com/glycerine/rbtree"
)

// routeIDHandle pairs a route id with its send handle inside the
// red-black tree backing routeMap.
type routeIDHandle struct {
	id int64
	h  SendHandle
}

// routeMap is a deterministic int64 -> SendHandle map backed by
// rbtree.Tree, narrowed from the teacher's generic ordered-map to the
// one key/value pair RouteTable actually needs. Iteration order is the
// route id's natural ascending order, which keeps tests that install
// several routes and then range over them repeatable regardless of
// insertion order or Go map randomization.
//
// Like the teacher's map, routeMap does no internal locking: it is
// owned exclusively by the tx thread (see RouteTable's doc comment).
type routeMap struct {
	version int64
	tree    *rb.Tree

	// ordercache mirrors the teacher's caching trick: repeated full
	// scans (CloseAll during shutdown, tests ranging over routes)
	// avoid re-walking the tree so long as nothing changed since the
	// last cache fill.
	ordercache   []*routeIDHandle
	cacheversion int64
}

func newRouteMap() *routeMap {
	return &routeMap{
		tree: rb.NewTree(func(a, b rb.Item) int {
			ak := a.(*routeIDHandle).id
			bk := b.(*routeIDHandle).id
			switch {
			case ak < bk:
				return -1
			case ak > bk:
				return 1
			default:
				return 0
			}
		}),
	}
}

func (m *routeMap) Len() int {
	return m.tree.Len()
}

// set is an upsert, matching Insert's "never reassigned" contract by
// leaving an existing entry's handle untouched: routetable.go checks
// get2 before ever calling set, so in practice this only ever inserts.
func (m *routeMap) set(id int64, h SendHandle) (newlyAdded bool) {
	atomic.AddInt64(&m.version, 1)
	m.ordercache = nil
	m.cacheversion = 0

	query := &routeIDHandle{id: id, h: h}
	if _, found := m.tree.FindGE_isEqual(query); found {
		return false
	}
	m.tree.InsertGetIt(query)
	return true
}

// get2 returns the handle installed for id, if any.
func (m *routeMap) get2(id int64) (h SendHandle, found bool) {
	query := &routeIDHandle{id: id}
	it, found := m.tree.FindGE_isEqual(query)
	if found {
		h = it.Item().(*routeIDHandle).h
	}
	return
}

// all returns every installed (id, handle) pair in ascending id order.
func (m *routeMap) all() []routeIDHandle {
	n := m.tree.Len()
	nc := len(m.ordercache)
	vers := atomic.LoadInt64(&m.version)
	if nc == n && m.cacheversion == vers {
		out := make([]routeIDHandle, n)
		for i, kv := range m.ordercache {
			out[i] = *kv
		}
		return out
	}

	m.ordercache = nil
	m.cacheversion = vers
	for it := m.tree.Min(); !it.Limit(); it = it.Next() {
		m.ordercache = append(m.ordercache, it.Item().(*routeIDHandle))
	}
	out := make([]routeIDHandle, len(m.ordercache))
	for i, kv := range m.ordercache {
		out[i] = *kv
	}
	return out
}
