package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/ghostcoop/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When recording trigger deliveries", func() {
			d := dedupe.NewInMemoryDeduper()

			first := d.SeenAndRecord(ctx, "12|ghosts/g1/captureComplete")
			second := d.SeenAndRecord(ctx, "12|ghosts/g1/captureComplete")
			other := d.SeenAndRecord(ctx, "13|ghosts/g1/captureComplete")

			Convey("Then only repeats are reported as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(other, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When an id is unrecorded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(4))
			d.SeenAndRecord(ctx, "req-1")
			d.Unrecord(ctx, "req-1")
			d.Unrecord(ctx, "never-seen")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "req-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the bound is exceeded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i))
			}

			Convey("Then the oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "id-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "id-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "id-1"), ShouldBeFalse)
			})
		})

		Convey("When a slot freed by Unrecord is reused", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, "a")
			d.SeenAndRecord(ctx, "b")
			d.Unrecord(ctx, "a")
			d.SeenAndRecord(ctx, "c")

			Convey("Then the size stays consistent", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
			})
		})

		Convey("When running unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i))
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, "id-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given concurrent deliveries of the same ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		var fresh atomic.Int64
		var wg sync.WaitGroup

		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i)) {
						fresh.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is recorded exactly once", func() {
			So(fresh.Load(), ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}
