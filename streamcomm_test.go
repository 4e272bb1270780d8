package fedcomm

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func newTestStreamConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 1 << 16
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func Test040_loopback_stream_delivers_posted_message(t *testing.T) {

	cv.Convey("posting to route -1 on a broker-less endpoint should deliver to its own callback within 500ms", t, func() {
		cfg := newTestStreamConfig()
		cfg.LocalTarget = "localhost"
		cfg.PortNumber = 24200

		sc, err := NewStreamComm(cfg)
		cv.So(err, cv.ShouldBeNil)

		received := make(chan *ActionMessage, 1)
		sc.SetCallback(func(m *ActionMessage) {
			received <- m
		})

		cv.So(sc.Connect(), cv.ShouldBeTrue)
		defer sc.Disconnect()

		sc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_DATA, Payload: []byte("ping")})

		select {
		case m := <-received:
			cv.So(string(m.Payload), cv.ShouldEqual, "ping")
		case <-time.After(500 * time.Millisecond):
			t.Fatal("loopback callback never fired")
		}
	})
}

func Test041_broker_handshake_assigns_port(t *testing.T) {

	cv.Convey("a mock broker answering REQUEST_PORTS with PORT_DEFINITIONS should set B.PortNumber", t, func() {
		brokerCfg := newTestStreamConfig()
		brokerCfg.LocalTarget = "localhost"
		brokerCfg.PortNumber = 24160

		broker, err := NewStreamComm(brokerCfg)
		cv.So(err, cv.ShouldBeNil)
		broker.SetCallback(func(m *ActionMessage) {})
		cv.So(broker.Connect(), cv.ShouldBeTrue)
		defer broker.Disconnect()

		bCfg := newTestStreamConfig()
		bCfg.LocalTarget = "localhost"
		bCfg.BrokerTarget = "localhost:24160"
		bCfg.PortNumber = portUnknown

		b, err := NewStreamComm(bCfg)
		cv.So(err, cv.ShouldBeNil)
		b.SetCallback(func(m *ActionMessage) {})
		cv.So(b.Connect(), cv.ShouldBeTrue)
		defer b.Disconnect()

		cv.So(b.cfg.PortNumber, cv.ShouldEqual, PortRangeStart)
	})
}

func Test042_route_add_and_send(t *testing.T) {

	cv.Convey("a NEW_ROUTE followed by transmit should deliver to the remote endpoint's callback", t, func() {
		aCfg := newTestStreamConfig()
		aCfg.LocalTarget = "localhost"
		aCfg.PortNumber = 24210

		bCfg := newTestStreamConfig()
		bCfg.LocalTarget = "localhost"
		bCfg.PortNumber = 24211

		a, err := NewStreamComm(aCfg)
		cv.So(err, cv.ShouldBeNil)
		a.SetCallback(func(m *ActionMessage) {})
		cv.So(a.Connect(), cv.ShouldBeTrue)
		defer a.Disconnect()

		received := make(chan *ActionMessage, 1)
		b, err := NewStreamComm(bCfg)
		cv.So(err, cv.ShouldBeNil)
		b.SetCallback(func(m *ActionMessage) { received <- m })
		cv.So(b.Connect(), cv.ShouldBeTrue)
		defer b.Disconnect()

		a.AddRoute(7, "localhost:24211")
		time.Sleep(50 * time.Millisecond)
		a.Transmit(7, &ActionMessage{Action: CMD_DATA, Payload: []byte("hi")})

		select {
		case m := <-received:
			cv.So(string(m.Payload), cv.ShouldEqual, "hi")
		case <-time.After(1 * time.Second):
			t.Fatal("B never received the routed message")
		}
	})
}

func Test043_graceful_shutdown_terminates_and_stops_callbacks(t *testing.T) {

	cv.Convey("disconnect should bring both statuses to terminated within 1s and stop further callbacks", t, func() {
		aCfg := newTestStreamConfig()
		aCfg.LocalTarget = "localhost"
		aCfg.PortNumber = 24220

		a, err := NewStreamComm(aCfg)
		cv.So(err, cv.ShouldBeNil)

		var mu sync.Mutex
		var callbackCount int
		a.SetCallback(func(m *ActionMessage) {
			mu.Lock()
			callbackCount++
			mu.Unlock()
		})
		cv.So(a.Connect(), cv.ShouldBeTrue)

		for _, peerPort := range []int{24221, 24222, 24223} {
			a.AddRoute(int64(peerPort), "localhost:"+strconv.Itoa(peerPort))
		}
		time.Sleep(50 * time.Millisecond)

		a.Disconnect()

		deadline := time.Now().Add(1 * time.Second)
		for time.Now().Before(deadline) {
			if a.RxStatus() == StatusTerminated && a.TxStatus() == StatusTerminated {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cv.So(a.RxStatus(), cv.ShouldEqual, StatusTerminated)
		cv.So(a.TxStatus(), cv.ShouldEqual, StatusTerminated)

		mu.Lock()
		countAtShutdown := callbackCount
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		cv.So(callbackCount, cv.ShouldEqual, countAtShutdown)
	})
}

func Test044_bindWithRetry_increments_auto_assigned_port_on_collision(t *testing.T) {

	cv.Convey("a bind collision on an auto-assigned port should retry the next port up when a broker relationship exists", t, func() {
		occupied, err := net.Listen("tcp", "127.0.0.1:0")
		cv.So(err, cv.ShouldBeNil)
		defer occupied.Close()
		occupiedPort := occupied.Addr().(*net.TCPAddr).Port

		cfg := newTestStreamConfig()
		cfg.BrokerTarget = "localhost:24160" // any non-empty target just sets hasBroker

		sc, err := NewStreamComm(cfg)
		cv.So(err, cv.ShouldBeNil)
		cv.So(sc.autoPort, cv.ShouldBeTrue)
		cv.So(sc.hasBroker.Load(), cv.ShouldBeTrue)

		// simulate a broker having just assigned the already-occupied port
		sc.cfg.PortNumber = occupiedPort

		ln, err := sc.bindWithRetry("127.0.0.1")
		cv.So(err, cv.ShouldBeNil)
		defer ln.Close()
		cv.So(sc.cfg.PortNumber, cv.ShouldBeGreaterThan, occupiedPort)
	})
}

func Test045_bindWithRetry_fixed_port_gives_up_after_timeout(t *testing.T) {

	cv.Convey("a bind collision on a manually fixed port should retry in place and eventually give up", t, func() {
		occupied, err := net.Listen("tcp", "127.0.0.1:0")
		cv.So(err, cv.ShouldBeNil)
		defer occupied.Close()
		occupiedPort := occupied.Addr().(*net.TCPAddr).Port

		cfg := newTestStreamConfig()
		cfg.PortNumber = occupiedPort // fixed, not auto-assigned
		cfg.ConnectTimeout = 200 * time.Millisecond

		sc, err := NewStreamComm(cfg)
		cv.So(err, cv.ShouldBeNil)
		cv.So(sc.autoPort, cv.ShouldBeFalse)

		start := time.Now()
		_, err = sc.bindWithRetry("127.0.0.1")
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(time.Since(start), cv.ShouldBeGreaterThanOrEqualTo, 200*time.Millisecond)
		cv.So(sc.cfg.PortNumber, cv.ShouldEqual, occupiedPort)
	})
}

func Test046_transmit_after_disconnect_is_discarded_not_leaked(t *testing.T) {

	cv.Convey("a Transmit after Disconnect should be silently discarded rather than accumulate in the tx queue", t, func() {
		cfg := newTestStreamConfig()
		cfg.LocalTarget = "localhost"
		cfg.PortNumber = 24280

		sc, err := NewStreamComm(cfg)
		cv.So(err, cv.ShouldBeNil)
		sc.SetCallback(func(m *ActionMessage) {})
		cv.So(sc.Connect(), cv.ShouldBeTrue)

		sc.Disconnect()
		cv.So(sc.TxStatus(), cv.ShouldEqual, StatusTerminated)

		for i := 0; i < 10; i++ {
			sc.Transmit(RouteLoopback, &ActionMessage{Action: CMD_DATA})
		}
		time.Sleep(20 * time.Millisecond)
		cv.So(sc.txQ.Len(), cv.ShouldEqual, 0)
	})
}
