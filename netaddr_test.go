package fedcomm

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test080_portallocator_never_repeats(t *testing.T) {

	cv.Convey("allocate should never hand out the same port twice from the same range", t, func() {
		a := newPortAllocator(PortRangeStart)
		seen := make(map[int]bool)
		for i := 0; i < 50; i++ {
			p := a.allocate(PortRangeStart)
			cv.So(seen[p], cv.ShouldBeFalse)
			seen[p] = true
		}
	})
}

func Test081_portallocator_reserve_skips_reserved_port(t *testing.T) {

	cv.Convey("a reserved port should never be handed out by a subsequent allocate", t, func() {
		a := newPortAllocator(PortRangeStart)
		a.reserve(PortRangeStart)
		p := a.allocate(PortRangeStart)
		cv.So(p, cv.ShouldNotEqual, PortRangeStart)
	})
}

func Test083_portallocator_base_shifts_both_ranges(t *testing.T) {

	cv.Convey("newPortAllocator(base) should root the top-level and sub-broker ranges base apart by the teacher's fixed offset", t, func() {
		a := newPortAllocator(30000)
		cv.So(a.topLevelRangeStart(), cv.ShouldEqual, 30000)
		cv.So(a.subBrokerRangeStart(), cv.ShouldEqual, 30000+subBrokerPortRangeOffset)
		cv.So(a.allocate(a.topLevelRangeStart()), cv.ShouldEqual, 30000)
	})
}

func Test082_splitInterfacePort(t *testing.T) {

	cv.Convey("splitInterfacePort should parse a well-formed host:port payload and reject a malformed one", t, func() {
		host, port, err := splitInterfacePort("localhost:24201")
		cv.So(err, cv.ShouldBeNil)
		cv.So(host, cv.ShouldEqual, "localhost")
		cv.So(port, cv.ShouldEqual, 24201)

		_, _, err = splitInterfacePort("no-port-here")
		cv.So(err, cv.ShouldNotBeNil)
	})
}
