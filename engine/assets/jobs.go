package assets

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// MaxJobResults is the number of finished jobs that may wait for Update.
const MaxJobResults = 512

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

// Job is one unit of background work. Run executes on a worker; Done runs on
// the goroutine calling Update.
type Job struct {
	Name string
	Run  func() (any, error)
	Done func(result any, err error)
}

// JobSystem runs asset loads on a fixed pool of workers and hands the
// results back to the frame loop.
type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	results    chan func()
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
		results:    make(chan func(), MaxJobResults),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.Run()
				if err != nil {
					core.LogError("job failed", "job", job.Name, "err", err)
				}
				if job.Done != nil {
					done := job.Done
					js.results <- func() { done(result, err) }
				}
			}
		}()
	}
}

// Submit queues job. It blocks while the queue is full and fails once the
// system is shut down.
func (js *JobSystem) Submit(job Job) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return fmt.Errorf("job %s submitted after shutdown", job.Name)
	}
	js.jobQueue <- job
	return nil
}

// Go adapts Submit to scene.Background.
func (js *JobSystem) Go(name string, run func() (any, error), done func(any, error)) error {
	return js.Submit(Job{Name: name, Run: run, Done: done})
}

// Update runs the completion callbacks of every finished job. Should happen
// once an update cycle.
func (js *JobSystem) Update() int {
	n := 0
	for {
		select {
		case fn := <-js.results:
			fn()
			n++
		default:
			return n
		}
	}
}

// Shutdown waits for queued jobs to finish. Their completions are dropped.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	// Workers may be blocked on a full result channel.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-js.results:
			case <-stop:
				return
			}
		}
	}()
	js.wg.Wait()
	close(stop)
	return nil
}
