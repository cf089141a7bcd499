package call

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// candidateQueue buffers remote ICE candidates that raced ahead of the
// description exchange. Candidates are applied in arrival order by a single
// flush, which happens exactly once per call, immediately after the remote
// description is set. Anything arriving later bypasses the queue.
type candidateQueue struct {
	pending []webrtc.ICECandidateInit
	flushed bool
}

func (q *candidateQueue) enqueue(c webrtc.ICECandidateInit) {
	q.pending = append(q.pending, c)
}

func (q *candidateQueue) len() int { return len(q.pending) }

// flush applies every queued candidate FIFO and clears the queue. A second
// flush is a no-op.
func (q *candidateQueue) flush(apply func(webrtc.ICECandidateInit) error) {
	if q.flushed {
		return
	}
	q.flushed = true
	for _, c := range q.pending {
		if err := apply(c); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("apply queued candidate")
		}
	}
	q.pending = nil
}
