package atomic_float

import (
	"math"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAtomicAdd(t *testing.T) {
	Convey("When AtomicAdd is called", t, func() {
		Convey("When multiple writers add to the float value concurrently", func() {
			f64 := NewAtomicFloat64(0.0)
			numOps := 3000
			numWriters := 200

			start := make(chan struct{})
			wg := sync.WaitGroup{}
			wg.Add(numWriters)
			adder := func() {
				defer wg.Done()
				<-start
				for i := 0; i < numOps; i++ {
					for succeeded := false; !succeeded; _, succeeded = f64.AtomicAdd(1.0) {
					}
				}
			}

			for i := 0; i < numWriters; i++ {
				go adder()
			}

			// Wait for goroutines to begin
			time.Sleep(time.Millisecond * 10)
			close(start)
			wg.Wait()
			So(f64.AtomicRead(), ShouldEqual, float64(numOps*numWriters))
		})

		Convey("When multiple writers increment and decrement the float value concurrently", func() {
			f64 := NewAtomicFloat64(0.0)
			numOps := 3000
			numWriters := 200

			start := make(chan struct{})
			wg := sync.WaitGroup{}
			wg.Add(numWriters * 2)
			worker := func(addend float64) {
				defer wg.Done()
				<-start
				for i := 0; i < numOps; i++ {
					for succeeded := false; !succeeded; _, succeeded = f64.AtomicAdd(addend) {
					}
				}
			}

			for i := 0; i < numWriters; i++ {
				go worker(1.0)
				go worker(-1.0)
			}

			time.Sleep(time.Millisecond * 10)
			close(start)
			wg.Wait()
			So(f64.AtomicRead(), ShouldEqual, float64(0.0))
		})
	})
}

func TestAtomicMax(t *testing.T) {
	Convey("When AtomicMax is called", t, func() {
		Convey("A smaller candidate leaves the value unchanged", func() {
			f64 := NewAtomicFloat64(2.5)
			So(f64.AtomicMax(1.0), ShouldEqual, 2.5)
			So(f64.AtomicRead(), ShouldEqual, 2.5)
		})

		Convey("NaN candidates are ignored", func() {
			f64 := NewAtomicFloat64(0.5)
			So(f64.AtomicMax(math.NaN()), ShouldEqual, 0.5)
		})

		Convey("When many writers race, the largest candidate wins", func() {
			f64 := NewAtomicFloat64(0)
			numWriters := 100
			numOps := 500

			start := make(chan struct{})
			wg := sync.WaitGroup{}
			wg.Add(numWriters)
			for w := 0; w < numWriters; w++ {
				go func(w int) {
					defer wg.Done()
					<-start
					for i := 0; i < numOps; i++ {
						f64.AtomicMax(float64(w*numOps + i))
					}
				}(w)
			}

			time.Sleep(time.Millisecond * 10)
			close(start)
			wg.Wait()
			So(f64.AtomicRead(), ShouldEqual, float64(numWriters*numOps-1))
		})
	})

	Convey("AtomicSet overwrites the value", t, func() {
		f64 := NewAtomicFloat64(7)
		f64.AtomicSet(-3)
		So(f64.AtomicRead(), ShouldEqual, -3.0)
	})
}
