package lifecycle

import (
	"testing"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a lifecycle manager", t, func() {
		m := NewManager(logger.Nop())

		Convey("Duplicate service names are rejected", func() {
			_, err := m.NewServiceHandle("health")
			So(err, ShouldBeNil)
			_, err = m.NewServiceHandle("health")
			So(err, ShouldNotBeNil)
		})

		Convey("Services stopping on shutdown are awaited", func() {
			So(m.Go("loop", func(h *Handle) {
				for h.Sleep(10*time.Millisecond) == nil {
				}
			}), ShouldBeNil)

			m.Shutdown()
			So(m.WaitWithTimeout(time.Second), ShouldBeEmpty)
		})

		Convey("Stuck services are reported after the timeout", func() {
			h, err := m.NewServiceHandle("stuck")
			So(err, ShouldBeNil)

			m.Shutdown()
			So(m.WaitWithTimeout(20*time.Millisecond), ShouldResemble, []string{"stuck"})

			h.Close()
			h.Close()
			So(m.WaitWithTimeout(time.Second), ShouldBeEmpty)
		})

		Convey("Sleep returns early once shut down", func() {
			h, err := m.NewServiceHandle("sleeper")
			So(err, ShouldBeNil)
			m.Shutdown()
			So(h.Sleep(time.Hour), ShouldNotBeNil)
			h.Close()
		})
	})
}
