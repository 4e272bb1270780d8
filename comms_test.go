package fedcomm

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test060_propertylock_one_shot(t *testing.T) {

	cv.Convey("propertyLock should succeed exactly once while both loops are still in startup", t, func() {
		c := newCommsCore(DefaultConfig())
		cv.So(c.propertyLock(), cv.ShouldBeTrue)
		cv.So(c.propertyLock(), cv.ShouldBeFalse)
	})
}

func Test061_propertylock_fails_once_connected(t *testing.T) {

	cv.Convey("propertyLock should fail once either loop has left startup", t, func() {
		c := newCommsCore(DefaultConfig())
		c.setRxStatus(StatusConnected)
		cv.So(c.propertyLock(), cv.ShouldBeFalse)
	})
}

func Test062_dispatchroute_miss_falls_back_to_broker(t *testing.T) {

	cv.Convey("a route lookup miss should fall through to the broker handle when one exists", t, func() {
		c := newCommsCore(DefaultConfig())
		broker := &fakeSendHandle{}
		c.brokerHandle = broker

		h, ok := c.dispatchRoute(999)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(h, cv.ShouldEqual, broker)
	})
}

func Test063_dispatchroute_miss_without_broker_is_dropped(t *testing.T) {

	cv.Convey("a route lookup miss with no broker present should be a silent drop, never a panic", t, func() {
		c := newCommsCore(DefaultConfig())
		_, ok := c.dispatchRoute(999)
		cv.So(ok, cv.ShouldBeFalse)
	})
}

func Test064_maybesignaloperating_fires_once(t *testing.T) {

	cv.Convey("maybeSignalOperating should return true exactly once", t, func() {
		c := newCommsCore(DefaultConfig())
		cv.So(c.maybeSignalOperating(), cv.ShouldBeTrue)
		cv.So(c.maybeSignalOperating(), cv.ShouldBeFalse)
		cv.So(c.maybeSignalOperating(), cv.ShouldBeFalse)
	})
}
