package fedcomm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glycerine/base58"
)

// Queue-transport state values for the shared-memory state descriptor
// (§4.4): the sole inter-process synchronization primitive beyond the
// queues themselves, written only by the rx side.
const (
	qsStartup int32 = iota
	qsOperating
	qsClosing
)

var errMQTimeout = errors.New("fedcomm: message queue receive timeout")

// mqBackend is a named OS message queue capable of sending at one of
// three priority levels and receiving FIFO-within-priority. The real
// implementation (Linux) and the in-process fake used in tests both
// satisfy this.
type mqBackend interface {
	Send(priority int, data []byte) error
	Recv(timeout time.Duration) (data []byte, err error)
	Close() error
}

// sharedState is the startup/operating/closing descriptor. The real
// implementation backs it with mmap'd shared memory; the fake backs
// it with a plain atomic.
type sharedState interface {
	Load() int32
	Store(int32)
	Close() error
}

// translateQueueName maps an arbitrary target name to a platform-legal
// OS identifier: no spaces, no slashes, deterministic (§6 "OS message
// queue identifiers").
func translateQueueName(target string) string {
	return "fedcomm_" + base58.Encode([]byte(target))
}

// QueueComm is the named-message-queue transport (§4.4): own-queue rx
// with a shared-memory operating-state gate, and a tx side that opens
// the broker queue, waits for its own receiver to leave startup, then
// opens its own queue in send mode for protocol loopback.
type QueueComm struct {
	*commsCore

	ownQueue mqBackend
	state    sharedState

	newBackend func(name string, maxCount, maxSize int, create bool) (mqBackend, error)
	newState   func(name string, create bool) (sharedState, error)
}

// routeQueueHandle implements SendHandle for a route installed over
// the queue transport: an opened-in-send-mode named queue.
type routeQueueHandle struct {
	q mqBackend
}

func (h *routeQueueHandle) Send(m *ActionMessage) error {
	body, err := encodeActionMessage(m)
	if err != nil {
		return err
	}
	return h.q.Send(queuePriority(m), body)
}

func (h *routeQueueHandle) Close() error { return h.q.Close() }

// NewQueueComm constructs a QueueComm. backendFactory/stateFactory let
// tests substitute the in-process fake for the OS-backed
// implementation; pass nil for both to use the real, platform-gated
// implementation (newRealMQBackend/newRealSharedState).
func NewQueueComm(cfg *Config, backendFactory func(name string, maxCount, maxSize int, create bool) (mqBackend, error), stateFactory func(name string, create bool) (sharedState, error)) *QueueComm {
	if backendFactory == nil {
		backendFactory = newRealMQBackend
	}
	if stateFactory == nil {
		stateFactory = newRealSharedState
	}
	return &QueueComm{
		commsCore:  newCommsCore(cfg),
		newBackend: backendFactory,
		newState:   stateFactory,
	}
}

var _ CommsInterface = (*QueueComm)(nil)

func (qc *QueueComm) Connect() bool {
	start := time.Now()
	go qc.txLoop()
	go qc.rxLoop()
	for qc.RxStatus() == StatusStartup || qc.TxStatus() == StatusStartup {
		time.Sleep(10 * time.Millisecond)
	}
	qc.latency.Record(time.Since(start))
	return qc.RxStatus() == StatusConnected && qc.TxStatus() == StatusConnected
}

func (qc *QueueComm) Disconnect() {
	if qc.TxStatus() == StatusTerminated && qc.RxStatus() == StatusTerminated {
		return
	}
	qc.halt.ReqStop.Close()
	qc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_PROTOCOL, Index: DISCONNECT})
	qc.rxQ.Push(0, &ActionMessage{Action: CMD_PROTOCOL, Index: CLOSE_RECEIVER})

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if qc.TxStatus() == StatusTerminated && qc.RxStatus() == StatusTerminated {
			qc.halt.Done.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	qc.halt.Done.Close()
}

// rxLoop creates (or opens) the local named queue sized by
// maxMessageCount x maxMessageSize plus its shared-memory state
// object, then reads FIFO-within-priority until CLOSE_RECEIVER.
func (qc *QueueComm) rxLoop() {
	defer close(qc.rxDone)

	name := translateQueueName(qc.cfg.LocalTarget)
	q, err := qc.newBackend(name, qc.cfg.MaxMessageCount, qc.cfg.MaxMessageSize, true)
	if err != nil {
		qc.setRxStatus(StatusError)
		qc.fireCallback(qc.synthesizeError(fmt.Sprintf("queue transport: could not create queue %q: %v", name, err)))
		return
	}
	st, err := qc.newState(name, true)
	if err != nil {
		qc.setRxStatus(StatusError)
		q.Close()
		qc.fireCallback(qc.synthesizeError(fmt.Sprintf("queue transport: could not create state %q: %v", name, err)))
		return
	}
	qc.ownQueue = q
	qc.state = st
	qc.state.Store(qsStartup)
	qc.ownRxHandle = &routeQueueHandle{q: q}
	qc.setRxStatus(StatusConnected)

	var closing atomic.Bool
	go func() {
		for {
			item, ok := qc.rxQ.Pop()
			if !ok {
				return
			}
			if isProtocolCommand(item.Msg) && (item.Msg.Index == CLOSE_RECEIVER || item.Msg.Index == DISCONNECT) {
				qc.state.Store(qsClosing)
				closing.Store(true)
				q.Close()
				qc.rxQ.Close()
				return
			}
		}
	}()

	for {
		data, err := q.Recv(200 * time.Millisecond)
		if err != nil {
			if errors.Is(err, errMQTimeout) {
				if closing.Load() {
					break
				}
				continue
			}
			// queue closed out from under us: treat as shutdown.
			break
		}
		m, err := decodeActionMessage(data)
		if err != nil {
			vv("queuecomm: dropping malformed frame: %v", err)
			continue
		}
		qc.handleInboundQueueFrame(m)
	}
	qc.state.Store(qsClosing)
	qc.setRxStatus(StatusTerminated)
}

func (qc *QueueComm) handleInboundQueueFrame(m *ActionMessage) {
	if isProtocolCommand(m) {
		switch m.Index {
		case SET_TO_OPERATING:
			qc.state.Store(qsOperating)
		case CLOSE_RECEIVER, DISCONNECT, NEW_ROUTE, QUERY_PORTS, REQUEST_PORTS, PORT_DEFINITIONS:
			// not meaningful inbound on this side; ignored per forward-compat.
		}
		return
	}
	if m.Action == CMD_INIT_GRANT {
		qc.state.Store(qsOperating)
	}
	qc.fireCallback(m)
}

func (qc *QueueComm) txLoop() {
	defer close(qc.txDone)
	// Closing txQ on every exit path (not just the DISCONNECT path)
	// makes a subsequent Transmit() a true no-op per §7 category 6
	// ("silently discarded") instead of accumulating unread items in
	// txQ.items forever.
	defer qc.txQ.Close()

	if qc.hasBroker.Load() {
		if !qc.openBrokerQueue() {
			qc.setTxStatus(StatusError)
			qc.fireCallback(qc.synthesizeError("queue transport: could not open broker queue"))
			return
		}
	}

	if !qc.waitRxLeaveStartup() {
		qc.setTxStatus(StatusError)
		qc.fireCallback(qc.synthesizeError("queue transport: local receiver never left startup"))
		return
	}
	if qc.RxStatus() != StatusConnected {
		qc.setTxStatus(StatusError)
		return
	}

	localName := translateQueueName(qc.cfg.LocalTarget)
	ownSend, err := qc.newBackend(localName, qc.cfg.MaxMessageCount, qc.cfg.MaxMessageSize, false)
	if err != nil {
		qc.setTxStatus(StatusError)
		qc.fireCallback(qc.synthesizeError(fmt.Sprintf("queue transport: could not open own queue %q in send mode: %v", localName, err)))
		return
	}
	qc.ownRxHandle = &routeQueueHandle{q: ownSend}

	qc.setTxStatus(StatusConnected)

	for {
		item, ok := qc.txQ.Pop()
		if !ok {
			break
		}
		if isProtocolCommand(item.Msg) && item.Msg.Index == DISCONNECT {
			qc.disconnecting.Store(true)
			break
		}
		qc.handleTxItem(item)
	}

	qc.routes.CloseAll()
	if qc.brokerHandle != nil {
		qc.brokerHandle.Close()
	}
	ownSend.Close()
	if qc.RxStatus() != StatusTerminated {
		qc.rxQ.Push(0, &ActionMessage{Action: CMD_PROTOCOL, Index: CLOSE_RECEIVER})
	}
	qc.setTxStatus(StatusTerminated)
}

// openBrokerQueue opens the broker's queue in send mode, retrying up
// to 20 times per §4.4 "Tx-side connect".
func (qc *QueueComm) openBrokerQueue() bool {
	start := time.Now()
	name := translateQueueName(qc.cfg.BrokerTarget)
	var lastErr error
	for attempt := 0; attempt < 20; attempt++ {
		q, err := qc.newBackend(name, qc.cfg.MaxMessageCount, qc.cfg.MaxMessageSize, false)
		if err == nil {
			qc.brokerHandle = &routeQueueHandle{q: q}
			qc.latency.Record(time.Since(start))
			return true
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	vv("queuecomm: giving up opening broker queue %q: %v", name, lastErr)
	return false
}

func (qc *QueueComm) handleTxItem(item queuedAction) {
	m := item.Msg

	if isProtocolCommand(m) && item.RouteID == RouteLoopback {
		switch m.Index {
		case NEW_ROUTE:
			qc.handleNewRoute(m)
		case CLOSE_RECEIVER:
			qc.rxQ.Push(0, m)
		}
		return
	}

	if m.Action == CMD_INIT_GRANT && qc.maybeSignalOperating() {
		setOp := &ActionMessage{Action: CMD_PROTOCOL, Index: SET_TO_OPERATING}
		if qc.ownRxHandle != nil {
			qc.ownRxHandle.Send(setOp)
		}
	}

	h, ok := qc.dispatchRoute(item.RouteID)
	if !ok {
		return
	}
	start := time.Now()
	if err := h.Send(m); err != nil {
		quiet := isProtocolCommand(m) && m.Index == DISCONNECT
		if !quiet {
			vv("queuecomm: send on route %d failed: %v", item.RouteID, err)
		}
	} else {
		qc.latency.Record(time.Since(start))
	}
}

// handleNewRoute opens the named queue addressed by m.Payload in send
// mode with up to 3 retries (§4.4 "Route creation").
func (qc *QueueComm) handleNewRoute(m *ActionMessage) {
	if m.DestID <= 0 {
		return
	}
	name := translateQueueName(string(m.Payload))
	var q mqBackend
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		q, err = qc.newBackend(name, qc.cfg.MaxMessageCount, qc.cfg.MaxMessageSize, false)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		return // swallowed, route silently absent
	}
	h := &routeQueueHandle{q: q}
	if !qc.routes.Insert(m.DestID, h) {
		q.Close()
	}
}
