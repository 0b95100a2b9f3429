package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// logChannelCapacity bounds the channel: if the flusher falls behind, the
// container stdout reader blocks. Backpressure is intentional; a slow
// build is preferable to a dropped log line.
const logChannelCapacity = 1024

// flushInterval and flushBatchSize control the batching: flush every
// 250ms or 64 lines, whichever comes first.
const (
	flushInterval  = 250 * time.Millisecond
	flushBatchSize = 64
)

// flushFunc delivers one batch of lines to the dispatch API.
type flushFunc func(ctx context.Context, lines []LogLine) error

// lineStreamer receives log lines over a bounded channel and batches them
// to flushFunc on a timer/size double trigger.
type lineStreamer struct {
	lines chan LogLine
	flush flushFunc
	done  chan struct{}
	seq   int64
}

func newLineStreamer(flush flushFunc) *lineStreamer {
	return &lineStreamer{
		lines: make(chan LogLine, logChannelCapacity),
		flush: flush,
		done:  make(chan struct{}),
	}
}

// Push enqueues one line, blocking if the channel is full. Seq is assigned
// here so a retried flush of the same batch carries the same sequence
// numbers and the store can drop the duplicate.
func (s *lineStreamer) Push(line string) {
	seq := atomic.AddInt64(&s.seq, 1)
	s.lines <- LogLine{Seq: seq, Ts: time.Now().UTC(), Line: line}
}

// Run drains the channel until Close is called, flushing on the
// interval/size double trigger. Call from its own goroutine; call Close
// then wait for Run to return before considering a stage's logs durable.
func (s *lineStreamer) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]LogLine, 0, flushBatchSize)
	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flush(ctx, batch); err != nil {
			log.Error().Err(err).Int("lines", len(batch)).Msg("Flushing log batch failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				flushBatch()
				close(s.done)
				return
			}
			batch = append(batch, line)
			if len(batch) >= flushBatchSize {
				flushBatch()
			}
		case <-ticker.C:
			flushBatch()
		}
	}
}

// Close stops accepting new lines and waits for the final flush: a stage
// must never transition terminal before its trailing log lines are sent.
func (s *lineStreamer) Close() {
	close(s.lines)
	<-s.done
}
