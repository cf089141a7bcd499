package call

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCandidateQueueFlushOrder(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "a"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "b"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "c"})
	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	var applied []string
	q.flush(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	})
	if len(applied) != 3 || applied[0] != "a" || applied[1] != "b" || applied[2] != "c" {
		t.Fatalf("applied = %v, want a b c", applied)
	}
}

func TestCandidateQueueFlushesOnce(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "a"})

	calls := 0
	apply := func(webrtc.ICECandidateInit) error { calls++; return nil }
	q.flush(apply)
	q.flush(apply)
	if calls != 1 {
		t.Fatalf("applied %d times, want 1", calls)
	}
}

func TestCandidateQueueContinuesPastApplyError(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "bad"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "good"})

	var applied []string
	q.flush(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		if c.Candidate == "bad" {
			return errors.New("malformed")
		}
		return nil
	})
	if len(applied) != 2 {
		t.Fatalf("applied = %v, want both attempted", applied)
	}
}
