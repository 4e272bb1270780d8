package fedcomm

// SendHandle is a transport-specific send-capable handle installed
// into the route table by NEW_ROUTE. Both the stream and the queue
// transport implement it with a type wrapping their own connection or
// named queue.
type SendHandle interface {
	Send(m *ActionMessage) error
	Close() error
}

// RouteTable is the C9 "ordered mapping from positive route_id to a
// send-capable transport handle" — a deterministic, iteration-stable
// map so that tests exercising multiple routes get repeatable
// traversal order. It is owned exclusively by the tx thread; nothing
// else may touch it directly (see CommsInterface.AddRoute).
type RouteTable struct {
	routes *routeMap
}

// NewRouteTable returns an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: newRouteMap()}
}

// Insert installs h under routeID iff routeID is not already present.
// Per invariant, "once a route id is inserted, its send handle is
// never reassigned; a NEW_ROUTE for an existing id is ignored" —
// inserted is false in that case and h is left untouched by the
// caller's responsibility to Close it.
func (rt *RouteTable) Insert(routeID int64, h SendHandle) (inserted bool) {
	if routeID <= 0 {
		panic("fedcomm: route table only holds positive route ids; 0 and -1 are reserved")
	}
	if _, found := rt.routes.get2(routeID); found {
		return false
	}
	rt.routes.set(routeID, h)
	return true
}

// Lookup returns the handle installed for routeID, if any.
func (rt *RouteTable) Lookup(routeID int64) (h SendHandle, found bool) {
	return rt.routes.get2(routeID)
}

// Len reports how many routes are installed.
func (rt *RouteTable) Len() int {
	return rt.routes.Len()
}

// CloseAll closes every installed handle, ignoring individual errors;
// used during graceful shutdown (§4.1 "closes per-route send handles").
func (rt *RouteTable) CloseAll() {
	for _, rh := range rt.routes.all() {
		rh.h.Close()
	}
}
