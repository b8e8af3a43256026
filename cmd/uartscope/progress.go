package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line up to date with the current phase and
// the time left, or the time spent when there is no deadline.
//
//	p := NewProgressPrinter(w, "Looking for AA:BB", "Scanning", 30*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Stop must be called to release its goroutine.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value // string
	duration time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer. A zero duration counts up.
func NewProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start prints the first line and begins refreshing it.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		start := time.Now()
		p.print(p.phase.Load().(string), 0)

		go func() {
			defer close(p.done)

			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stopChan:
					return
				case <-ticker.C:
					p.print(p.phase.Load().(string), p.seconds(time.Since(start)))
				}
			}
		}()
	})
}

// SetPhase changes the phase shown. Safe from any goroutine.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop stops refreshing and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		started := true
		p.startOnce.Do(func() { started = false })
		if started {
			<-p.done
		}
		fmt.Fprint(p.w, clearLineSequence)
	})
}

// seconds is the elapsed time when counting up, otherwise the remaining time
// rounded to the nearest second.
func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}
