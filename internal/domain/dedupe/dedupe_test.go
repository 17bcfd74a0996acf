package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dedupe "github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func event(id int64, kind model.EventKind, at int64) model.InboundEvent {
	return model.InboundEvent{
		ObjectType:  model.ObjectActivity,
		EntityID:    id,
		PrincipalID: 42,
		Kind:        kind,
		EventTime:   time.Unix(at, 0),
	}
}

func TestFingerprint(t *testing.T) {
	Convey("Given webhook events", t, func() {
		base := event(555, model.KindCreated, 1_700_000_000)

		Convey("When the same change is delivered twice", func() {
			again := base
			again.DeliveryID = "other-delivery"
			again.ReceivedAt = time.Now()

			Convey("Then both deliveries share a fingerprint", func() {
				So(dedupe.Fingerprint(again), ShouldEqual, dedupe.Fingerprint(base))
				So(len(dedupe.Fingerprint(base)), ShouldEqual, 64)
			})
		})

		Convey("When any identity field differs", func() {
			Convey("Then the fingerprint differs", func() {
				fp := dedupe.Fingerprint(base)
				So(dedupe.Fingerprint(event(556, model.KindCreated, 1_700_000_000)), ShouldNotEqual, fp)
				So(dedupe.Fingerprint(event(555, model.KindUpdated, 1_700_000_000)), ShouldNotEqual, fp)
				So(dedupe.Fingerprint(event(555, model.KindCreated, 1_700_000_001)), ShouldNotEqual, fp)

				athlete := base
				athlete.ObjectType = model.ObjectAthlete
				So(dedupe.Fingerprint(athlete), ShouldNotEqual, fp)
			})
		})

		Convey("Then the notification key ignores the event time", func() {
			So(dedupe.NotificationKey(555, model.KindCreated), ShouldEqual, "555:create")
		})
	})
}

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should start empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording events", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the event is new", func() {
				seen := d.SeenAndRecord(ctx, "event-1")

				Convey("Then it should return false and record the event", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the event was already seen", func() {
				d.SeenAndRecord(ctx, "event-1")
				seen := d.SeenAndRecord(ctx, "event-1")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording events", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "event-1")

			Convey("And the event exists", func() {
				d.Unrecord(ctx, "event-1")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
				})
			})

			Convey("And the event doesn't exist", func() {
				d.Unrecord(ctx, "missing")

				Convey("Then it should not affect the size", func() {
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When the deduper is cleared", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "event-1")
			d.SeenAndRecord(ctx, "event-2")
			d.Clear()

			Convey("Then every fingerprint is forgotten", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})
		})

		Convey("When using bounded mode with eviction", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i))
			}

			Convey("Then the oldest fingerprint is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "event-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})
		})
	})
}

func TestShouldProcessWindow(t *testing.T) {
	Convey("Given a deduper with a ten minute window", t, func() {
		ctx := context.Background()
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		d := dedupe.NewInMemoryDeduper(dedupe.WithTTL(10*time.Minute), dedupe.WithClock(clock.Now))
		e := event(555, model.KindCreated, 1_700_000_000)

		Convey("When the same event arrives twice within the window", func() {
			first := dedupe.ShouldProcess(ctx, d, e)
			clock.Advance(time.Second)
			second := dedupe.ShouldProcess(ctx, d, e)

			Convey("Then only the first is processed", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
			})
		})

		Convey("When the same event arrives after the window", func() {
			first := dedupe.ShouldProcess(ctx, d, e)
			clock.Advance(10 * time.Minute)
			second := dedupe.ShouldProcess(ctx, d, e)

			Convey("Then both are processed", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper with concurrent access", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const numGoroutines = 10
		const eventsPerGoroutine = 100

		Convey("When multiple goroutines record distinct events concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func(goroutineID int) {
					defer wg.Done()
					for j := 0; j < eventsPerGoroutine; j++ {
						d.SeenAndRecord(ctx, fmt.Sprintf("event-%d-%d", goroutineID, j))
					}
				}(i)
			}
			wg.Wait()

			Convey("Then all events should be recorded", func() {
				So(d.Size(), ShouldEqual, int64(numGoroutines*eventsPerGoroutine))
			})
		})

		Convey("When multiple goroutines race on one redelivered event", func() {
			var firsts atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if !d.SeenAndRecord(ctx, "redelivered") {
						firsts.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one goroutine records it", func() {
				So(firsts.Load(), ShouldEqual, 1)
			})
		})
	})
}
