package runtime

import "sync"

// workerPool runs batch chunks on a fixed set of goroutines.
// The job channel is buffered to three times the worker count.
type workerPool struct {
	size int
	jobs chan poolJob
}

type poolJob struct {
	fn func()
	wg *sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size <= 1 {
		return nil
	}
	p := &workerPool{size: size, jobs: make(chan poolJob, size*3)}
	for i := 0; i < size; i++ {
		go func() {
			for job := range p.jobs {
				job.fn()
				job.wg.Done()
			}
		}()
	}
	return p
}

// Run executes tasks and waits for all of them. nil tasks are skipped.
func (p *workerPool) Run(tasks ...func()) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		if task == nil {
			continue
		}
		wg.Add(1)
		p.jobs <- poolJob{fn: task, wg: &wg}
	}
	wg.Wait()
}

func (p *workerPool) Close() {
	close(p.jobs)
}
