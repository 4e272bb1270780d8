//go:build !windows

package fedcomm

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test084_reusable_listen_config_installs_control_only_when_requested(t *testing.T) {

	cv.Convey("reusableListenConfig should only attach a Control hook when reuse is requested", t, func() {
		cv.So(reusableListenConfig(false).Control, cv.ShouldBeNil)
		cv.So(reusableListenConfig(true).Control, cv.ShouldNotBeNil)
	})
}

func Test085_reuse_address_config_allows_immediate_rebind(t *testing.T) {

	cv.Convey("a listener bound with ReuseAddress should let a second listener bind the same port right after Close", t, func() {
		cfg := newTestStreamConfig()
		cfg.LocalTarget = "localhost"
		cfg.PortNumber = 24270
		cfg.ReuseAddress = true

		sc, err := NewStreamComm(cfg)
		cv.So(err, cv.ShouldBeNil)
		sc.SetCallback(func(m *ActionMessage) {})
		cv.So(sc.Connect(), cv.ShouldBeTrue)
		sc.Disconnect()

		// immediately rebinding the same port would fail without
		// SO_REUSEADDR if the OS still considers it in TIME_WAIT.
		cfg2 := newTestStreamConfig()
		cfg2.LocalTarget = "localhost"
		cfg2.PortNumber = 24270
		cfg2.ReuseAddress = true
		sc2, err := NewStreamComm(cfg2)
		cv.So(err, cv.ShouldBeNil)
		sc2.SetCallback(func(m *ActionMessage) {})
		cv.So(sc2.Connect(), cv.ShouldBeTrue)
		defer sc2.Disconnect()
	})
}
