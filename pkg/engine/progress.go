package engine

import (
	"sync/atomic"
	"time"
)

// ProgressFunc receives the number of completed x-columns out of total.
// Successive calls carry strictly increasing done values.
type ProgressFunc func(done, total int)

// progressReporter decouples workers from the progress sink: workers bump an
// atomic counter and a ticker goroutine forwards changes to the sink.
type progressReporter struct {
	completed atomic.Int64
	total     int
	fn        ProgressFunc
	last      int

	stop     chan struct{}
	finished chan struct{}
}

func startProgress(fn ProgressFunc, total int, interval time.Duration) *progressReporter {
	p := &progressReporter{
		total:    total,
		fn:       fn,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	if fn == nil {
		close(p.finished)
		return p
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	go func() {
		defer close(p.finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.report()
			case <-p.stop:
				return
			}
		}
	}()
	return p
}

// add records n more completed columns. Safe for concurrent use.
func (p *progressReporter) add(n int) {
	p.completed.Add(int64(n))
}

func (p *progressReporter) report() {
	current := int(p.completed.Load())
	if current > p.last {
		p.last = current
		p.fn(current, p.total)
	}
}

// finish stops the ticker. On success a last report is sent so the sink
// always sees (total, total).
func (p *progressReporter) finish(success bool) {
	if p.fn == nil {
		return
	}
	close(p.stop)
	<-p.finished
	if success {
		p.report()
	}
}
