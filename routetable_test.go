package fedcomm

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

type fakeSendHandle struct {
	closed bool
	sent   []*ActionMessage
}

func (h *fakeSendHandle) Send(m *ActionMessage) error {
	h.sent = append(h.sent, m)
	return nil
}

func (h *fakeSendHandle) Close() error {
	h.closed = true
	return nil
}

func Test010_routetable_insert_lookup(t *testing.T) {

	cv.Convey("a freshly inserted route should be found by Lookup with the same handle", t, func() {
		rt := NewRouteTable()
		h := &fakeSendHandle{}
		inserted := rt.Insert(5, h)
		cv.So(inserted, cv.ShouldBeTrue)
		cv.So(rt.Len(), cv.ShouldEqual, 1)

		got, found := rt.Lookup(5)
		cv.So(found, cv.ShouldBeTrue)
		cv.So(got, cv.ShouldEqual, h)
	})
}

func Test011_routetable_duplicate_insert_ignored(t *testing.T) {

	cv.Convey("a second Insert for an already-present route id must not replace the handle", t, func() {
		rt := NewRouteTable()
		first := &fakeSendHandle{}
		second := &fakeSendHandle{}
		cv.So(rt.Insert(9, first), cv.ShouldBeTrue)
		cv.So(rt.Insert(9, second), cv.ShouldBeFalse)

		got, found := rt.Lookup(9)
		cv.So(found, cv.ShouldBeTrue)
		cv.So(got, cv.ShouldEqual, first)
	})
}

func Test012_routetable_insert_rejects_reserved_ids(t *testing.T) {

	cv.Convey("Insert must panic for route id 0 or -1, which are reserved for broker and loopback", t, func() {
		rt := NewRouteTable()
		cv.So(func() { rt.Insert(0, &fakeSendHandle{}) }, cv.ShouldPanic)
		cv.So(func() { rt.Insert(-1, &fakeSendHandle{}) }, cv.ShouldPanic)
	})
}

func Test013_routetable_closeall_closes_every_handle(t *testing.T) {

	cv.Convey("CloseAll should close every installed handle exactly once", t, func() {
		rt := NewRouteTable()
		a := &fakeSendHandle{}
		b := &fakeSendHandle{}
		rt.Insert(1, a)
		rt.Insert(2, b)
		rt.CloseAll()
		cv.So(a.closed, cv.ShouldBeTrue)
		cv.So(b.closed, cv.ShouldBeTrue)
	})
}
