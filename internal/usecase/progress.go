package usecase

import "sync"

type progress struct {
	fn    ProgressFunc
	phase Phase
	total int

	mu   sync.Mutex
	done int
}

func newProgress(fn ProgressFunc, phase Phase, total int) *progress {
	p := &progress{fn: fn, phase: phase, total: total}
	if fn != nil {
		fn(phase, 0, total)
	}
	return p
}

func (p *progress) step() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.fn(p.phase, p.done, p.total)
}
