package fedcomm

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func newTestQueueConfig(local string) *Config {
	cfg := DefaultConfig()
	cfg.Transport = TransportQueue
	cfg.LocalTarget = local
	cfg.MaxMessageSize = 1 << 16
	cfg.MaxMessageCount = 64
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func Test050_queue_set_to_operating_is_idempotent(t *testing.T) {

	cv.Convey("the first CMD_INIT_GRANT should drive the shared state from startup to operating exactly once", t, func() {
		cfg := newTestQueueConfig("endpoint-a")
		qc := NewQueueComm(cfg, newInProcessMQBackend, newInProcessSharedState)

		qc.SetCallback(func(m *ActionMessage) {})
		cv.So(qc.Connect(), cv.ShouldBeTrue)
		defer qc.Disconnect()

		cv.So(qc.state.Load(), cv.ShouldEqual, qsStartup)

		qc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_INIT_GRANT})
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) && qc.state.Load() != qsOperating {
			time.Sleep(5 * time.Millisecond)
		}
		cv.So(qc.state.Load(), cv.ShouldEqual, qsOperating)

		qc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_INIT_GRANT})
		time.Sleep(50 * time.Millisecond)
		cv.So(qc.state.Load(), cv.ShouldEqual, qsOperating)
		cv.So(qc.signaledOperating.Load(), cv.ShouldBeTrue)
	})
}

func Test051_queue_route_add_and_send(t *testing.T) {

	cv.Convey("NEW_ROUTE over the queue transport should let A deliver a payload to B's callback", t, func() {
		aCfg := newTestQueueConfig("q-a")
		bCfg := newTestQueueConfig("q-b")

		a := NewQueueComm(aCfg, newInProcessMQBackend, newInProcessSharedState)
		a.SetCallback(func(m *ActionMessage) {})
		cv.So(a.Connect(), cv.ShouldBeTrue)
		defer a.Disconnect()

		received := make(chan *ActionMessage, 1)
		b := NewQueueComm(bCfg, newInProcessMQBackend, newInProcessSharedState)
		b.SetCallback(func(m *ActionMessage) { received <- m })
		cv.So(b.Connect(), cv.ShouldBeTrue)
		defer b.Disconnect()

		a.AddRoute(11, "q-b")
		time.Sleep(50 * time.Millisecond)
		a.Transmit(11, &ActionMessage{Action: CMD_DATA, Payload: []byte("queued hello")})

		select {
		case m := <-received:
			cv.So(string(m.Payload), cv.ShouldEqual, "queued hello")
		case <-time.After(1 * time.Second):
			t.Fatal("B never received the queued message")
		}
	})
}

func Test052_transmit_after_disconnect_is_discarded_not_leaked(t *testing.T) {

	cv.Convey("a Transmit after Disconnect should be silently discarded rather than accumulate in the tx queue", t, func() {
		cfg := newTestQueueConfig("q-discard")
		qc := NewQueueComm(cfg, newInProcessMQBackend, newInProcessSharedState)
		qc.SetCallback(func(m *ActionMessage) {})
		cv.So(qc.Connect(), cv.ShouldBeTrue)

		qc.Disconnect()
		cv.So(qc.TxStatus(), cv.ShouldEqual, StatusTerminated)

		for i := 0; i < 10; i++ {
			qc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_DATA})
		}
		time.Sleep(20 * time.Millisecond)
		cv.So(qc.txQ.Len(), cv.ShouldEqual, 0)
	})
}
