package ocr

import (
	"errors"
	"fmt"
	"sync"
)

// Pool holds a fixed set of engines and hands each to one caller at a time.
type Pool struct {
	engines chan Engine
	all     []Engine

	mu     sync.Mutex
	closed bool
}

// NewPool creates size engines with factory. If any creation fails the
// engines created so far are closed and the error is returned.
func NewPool(factory Factory, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}

	p := &Pool{engines: make(chan Engine, size)}
	for i := 0; i < size; i++ {
		e, err := factory()
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create engine %d of %d: %w", i+1, size, err)
		}
		p.all = append(p.all, e)
		p.engines <- e
	}
	return p, nil
}

// Size returns the number of engines in the pool.
func (p *Pool) Size() int { return len(p.all) }

// Acquire blocks until an engine is free and returns it. The caller owns
// the engine until it passes it to Release.
func (p *Pool) Acquire() (Engine, error) {
	e, ok := <-p.engines
	if !ok {
		return nil, ErrPoolClosed
	}
	// Close leaves idle engines buffered in the channel.
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	return e, nil
}

// Release returns an engine obtained from Acquire.
func (p *Pool) Release(e Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.engines <- e
}

// Close closes every engine. Engines still checked out are closed too, so
// Close must only be called once all workers are done.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.engines)
	p.mu.Unlock()

	var errs []error
	for _, e := range p.all {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
