package fedcomm

import (
	cryrand "crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/idem"
)

// Status is one of the five atoms an rx or tx loop can occupy.
type Status int32

const (
	StatusStartup Status = iota
	StatusConnected
	StatusError
	StatusTerminated
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusStartup:
		return "startup"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusTerminated:
		return "terminated"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// ActionCallback is invoked from the rx thread for every inbound
// frame that is not consumed as a protocol command. Implementations
// must never block this on transmit() backpressure; the tx queue is
// unbounded so that is safe by construction.
type ActionCallback func(*ActionMessage)

// route ids -1 and 0 are reserved; only positive ids are ever stored
// in the RouteTable itself (§3 "Route table").
const (
	RouteLoopback int64 = -1
	RouteBroker   int64 = 0
)

// CommsInterface is the abstract contract both concrete transports
// implement: lifecycle, queues, status atoms, callback surface.
type CommsInterface interface {
	// Transmit appends (routeID, msg) to the tx queue. Non-blocking;
	// never fails once Connect has succeeded.
	Transmit(routeID int64, msg *ActionMessage)

	// AddRoute is sugar for Transmit(-1, NEW_ROUTE{dest_id: routeID, payload: address}),
	// so route-table mutation always happens on the tx thread.
	AddRoute(routeID int64, address string)

	// SetCallback installs the ActionCallback. Must be called before Connect.
	SetCallback(fn ActionCallback)

	// Connect transitions both loops from startup to connected or error.
	Connect() bool

	// Disconnect drives both loops to terminated. Idempotent.
	Disconnect()

	RxStatus() Status
	TxStatus() Status

	// LatencySnapshot reports the current connect/round-trip/send
	// latency percentiles recorded so far (C14).
	LatencySnapshot() LatencySnapshot
}

// commsCore holds everything shared between the stream and queue
// transports: the queues, route table, status atoms, property lock,
// and the shutdown machinery. Concrete transports embed it and supply
// the actual I/O in their own rx/tx loop bodies.
type commsCore struct {
	cfg *Config

	// instanceID tags this endpoint's synthetic error messages so an
	// operator watching several endpoints' logs at once can tell which
	// process a given CMD_ERROR came from.
	instanceID string

	rxStatus atomic.Int32
	txStatus atomic.Int32

	hasBroker atomic.Bool

	mu       sync.Mutex // guards callback and propLocked below
	callback ActionCallback
	propLocked bool // true once propertyLock has been consumed

	txQ *ActionQueue
	rxQ *ActionQueue

	routes       *RouteTable
	brokerHandle SendHandle
	ownRxHandle  SendHandle

	disconnecting atomic.Bool
	signaledOperating atomic.Bool // CMD_INIT_GRANT -> SET_TO_OPERATING has fired once

	ports   *portAllocator
	diag    *HostDiagnostics
	latency *LatencyDigest

	halt *idem.Halter

	rxDone chan struct{}
	txDone chan struct{}
}

func newCommsCore(cfg *Config) *commsCore {
	c := &commsCore{
		cfg:        cfg,
		instanceID: newInstanceID(),
		txQ:        NewActionQueue(),
		rxQ:     NewActionQueue(),
		routes:  NewRouteTable(),
		ports:   newPortAllocator(cfg.PortStart),
		latency: NewLatencyDigest(),
		halt:    idem.NewHalter(),
		rxDone:  make(chan struct{}),
		txDone:  make(chan struct{}),
	}
	c.rxStatus.Store(int32(StatusStartup))
	c.txStatus.Store(int32(StatusStartup))
	c.hasBroker.Store(cfg.BrokerTarget != "")
	return c
}

func (c *commsCore) RxStatus() Status { return Status(c.rxStatus.Load()) }
func (c *commsCore) TxStatus() Status { return Status(c.txStatus.Load()) }

// LatencySnapshot reports the p50/p90/p99 of every connect,
// port-negotiation, and per-route send latency recorded so far.
func (c *commsCore) LatencySnapshot() LatencySnapshot {
	return c.latency.Snapshot()
}

func (c *commsCore) setRxStatus(s Status) { c.rxStatus.Store(int32(s)) }
func (c *commsCore) setTxStatus(s Status) { c.txStatus.Store(int32(s)) }

// propertyLock is a one-shot mutex: it succeeds and keeps the lock
// only while both loops are still in startup. All configuration
// setters must go through this exactly once.
func (c *commsCore) propertyLock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.propLocked {
		return false
	}
	if c.RxStatus() != StatusStartup || c.TxStatus() != StatusStartup {
		return false
	}
	c.propLocked = true
	return true
}

func (c *commsCore) SetCallback(fn ActionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = fn
}

func (c *commsCore) fireCallback(m *ActionMessage) {
	c.mu.Lock()
	fn := c.callback
	c.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// Transmit appends to the tx queue. Never blocks, never drops while
// the queue is open.
func (c *commsCore) Transmit(routeID int64, msg *ActionMessage) {
	c.txQ.Push(routeID, msg)
}

// AddRoute funnels through the tx queue per §4.1 so the route table
// mutation happens only on the tx thread.
func (c *commsCore) AddRoute(routeID int64, address string) {
	c.Transmit(RouteLoopback, &ActionMessage{
		Action:  CMD_PROTOCOL,
		Index:   NEW_ROUTE,
		DestID:  routeID,
		Payload: []byte(address),
	})
}

// synthesizeError builds the one-shot synthetic CMD_ERROR message §7
// category 2 requires, embedding a host diagnostics snapshot and this
// endpoint's instanceID so a reason string is traceable back to the
// process that raised it when several endpoints share a log stream.
func (c *commsCore) synthesizeError(reason string) *ActionMessage {
	return &ActionMessage{
		Action:  CMD_ERROR,
		Payload: []byte(fmt.Sprintf("[%s] %s", c.instanceID, reason)),
		Diag:    snapshotHostDiagnostics(),
	}
}

// waitRxLeaveStartup implements the tx loop's capped exponential
// backoff wait for the rx loop to leave startup: initial 50ms,
// doubling, giving up past ~1700ms (§4.1 "Startup ordering").
func (c *commsCore) waitRxLeaveStartup() bool {
	wait := 50 * time.Millisecond
	elapsed := time.Duration(0)
	const budget = 1700 * time.Millisecond
	for c.RxStatus() == StatusStartup {
		if elapsed >= budget {
			return false
		}
		if wait > budget-elapsed {
			wait = budget - elapsed
		}
		time.Sleep(wait)
		elapsed += wait
		wait *= 2
	}
	return true
}

// dispatchRoute implements §4.5 step 3: route_id==0 -> broker handle;
// route_id==-1 -> local rx handle; else route table lookup falling
// back to the broker handle, dropping silently if neither exists.
func (c *commsCore) dispatchRoute(routeID int64) (h SendHandle, ok bool) {
	switch {
	case routeID == RouteBroker:
		if c.brokerHandle == nil {
			return nil, false
		}
		return c.brokerHandle, true
	case routeID == RouteLoopback:
		if c.ownRxHandle == nil {
			return nil, false
		}
		return c.ownRxHandle, true
	default:
		if h, found := c.routes.Lookup(routeID); found {
			return h, true
		}
		if c.brokerHandle != nil {
			return c.brokerHandle, true
		}
		return nil, false
	}
}

// maybeSignalOperating implements §4.5 step 2: the first CMD_INIT_GRANT
// seen by the tx loop causes exactly one SET_TO_OPERATING protocol
// frame to be queued to the local rx (queue transport only; the
// stream transport has no equivalent operating gate and never calls
// this).
func (c *commsCore) maybeSignalOperating() (shouldSend bool) {
	return c.signaledOperating.CompareAndSwap(false, true)
}

// newInstanceID draws 17 crypto-random bytes and base64-url-encodes
// them into a short id suitable for tagging log lines, per the
// teacher's own crypto/rand + cristalhq/base64 convention for opaque
// identifiers.
func newInstanceID() string {
	var by [17]byte
	_, err := cryrand.Read(by[:])
	panicOn(err)
	return cristalbase64.URLEncoding.EncodeToString(by[:])
}
