package exec

import (
	"context"

	"github.com/gentable/engine/sse"
)

// ChunkSink delivers one multiplexed Chunk onward — to an SSE connection,
// a test collector, or any other destination.
type ChunkSink interface {
	Send(c Chunk) error
}

// SSESink adapts an sse.Writer into a ChunkSink, JSON-encoding each chunk
// as one SSE data event (§4.F: "multiplexes their chunk streams into one
// SSE channel").
type SSESink struct {
	Writer *sse.Writer
}

// Send implements ChunkSink.
func (s SSESink) Send(c Chunk) error {
	return s.Writer.SendData(c)
}

// Multiplexer drains a single bounded channel fed by many concurrent row
// executors and serializes delivery through one ChunkSink, so interleaved
// per-row chunk production never races on the underlying connection.
type Multiplexer struct {
	ch   chan Chunk
	sink ChunkSink
}

// defaultChunkBuffer is the minimum channel capacity (§5: "a bounded
// chan taggedChunk, capacity >= 64").
const defaultChunkBuffer = 64

// NewMultiplexer builds a Multiplexer delivering to sink over a channel
// of at least defaultChunkBuffer capacity.
func NewMultiplexer(bufSize int, sink ChunkSink) *Multiplexer {
	if bufSize < defaultChunkBuffer {
		bufSize = defaultChunkBuffer
	}
	return &Multiplexer{ch: make(chan Chunk, bufSize), sink: sink}
}

// Chan returns the channel row executors write chunks to.
func (m *Multiplexer) Chan() chan<- Chunk {
	return m.ch
}

// Run drains the channel and forwards every chunk to the sink, in
// arrival order (chunk interleaving across rows is expected and benign;
// only final row commits, not the live chunk stream, must preserve input
// order — see MultiRowExecutor.Run). It returns when the channel is
// closed (the normal path, once every row executor has finished and the
// caller closes it) or ctx is cancelled.
func (m *Multiplexer) Run(ctx context.Context) error {
	for {
		select {
		case c, ok := <-m.ch:
			if !ok {
				return nil
			}
			if err := m.sink.Send(c); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
