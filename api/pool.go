package api

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// PoolConfig sizes a WritePool.
type PoolConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
}

// PoolConfigFromEnv reads WRITE_WORKERS, WRITE_BUFFER and
// WRITE_HANDOFF_TIMEOUT.
func PoolConfigFromEnv() PoolConfig {
	return PoolConfig{
		Workers:        envInt("WRITE_WORKERS", 32),
		Buffer:         envInt("WRITE_BUFFER", 4096),
		HandoffTimeout: envDur("WRITE_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// WritePool runs background board writes on a fixed set of workers. When the
// buffer stays full past the handoff timeout the write runs on its own
// goroutine instead.
type WritePool struct {
	jobs     chan func()
	handoff  time.Duration
	logger   *log.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	overflow atomic.Int64
}

// NewWritePool starts cfg.Workers workers.
func NewWritePool(cfg PoolConfig, logger *log.Logger) *WritePool {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	p := &WritePool{
		jobs:    make(chan func(), cfg.Buffer),
		handoff: cfg.HandoffTimeout,
		logger:  logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logger.Infof("write pool started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return p
}

func (p *WritePool) worker() {
	defer p.wg.Done()
	for fn := range p.jobs {
		fn()
	}
}

// Dispatch hands fn to a worker. It never drops fn.
func (p *WritePool) Dispatch(fn func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		go fn()
		return
	}
	ok := p.send(fn)
	p.mu.RUnlock()
	if ok {
		return
	}
	p.overflow.Add(1)
	p.logger.Warn("write buffer saturated; running write detached")
	go fn()
}

func (p *WritePool) send(fn func()) bool {
	select {
	case p.jobs <- fn:
		return true
	default:
	}
	if p.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(p.handoff)
	defer timer.Stop()
	select {
	case p.jobs <- fn:
		return true
	case <-timer.C:
		return false
	}
}

// Overflow counts writes that bypassed the workers.
func (p *WritePool) Overflow() int64 { return p.overflow.Load() }

// Close stops accepting work and waits for queued writes to finish.
func (p *WritePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
