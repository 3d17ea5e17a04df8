package gateway

// sessionSemaphore limits concurrent application sessions. A nil channel
// (from newSessionSemaphore(0)) imposes no limit.
type sessionSemaphore struct {
	ch chan struct{}
}

func newSessionSemaphore(max int) *sessionSemaphore {
	if max <= 0 {
		return &sessionSemaphore{}
	}
	return &sessionSemaphore{ch: make(chan struct{}, max)}
}

// tryAcquire takes a slot without blocking.
func (s *sessionSemaphore) tryAcquire() bool {
	if s.ch == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *sessionSemaphore) release() {
	if s.ch == nil {
		return
	}
	<-s.ch
}
