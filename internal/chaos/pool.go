package chaos

import (
	"sync"
	"sync/atomic"
)

// workerPool is owned by a single executor handle; only that handle can stop it.
type workerPool struct {
	stop atomic.Bool
	wg   sync.WaitGroup
}

func (p *workerPool) Go(work func(stop *atomic.Bool)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		work(&p.stop)
	}()
}

// Stop raises the stop flag and blocks until every worker has returned.
func (p *workerPool) Stop() {
	p.stop.Store(true)
	p.wg.Wait()
}
