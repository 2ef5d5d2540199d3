package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy is returned by Submit when the inbound queue is full.
var ErrDispatcherBusy = errors.New("dispatcher queue is full")

type userQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // LRU queue storing user IDs
	positions map[int64]*list.Element
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if minWorkers <= 0 {
		minWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	pool := newJobChannelPool(minWorkers, maxWorkers, idleTimeout)

	d := &Dispatcher{
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      pool,
		jobQueue:  make(chan Job, queueSize),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a job to the dispatcher without blocking. A full queue
// is the caller's signal to shed load.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no work")
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user at the front of the LRU queue
		if !d.dispatchOne() {
			job := <-d.jobQueue // force congestion
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.jobQueue: // non-congestion
			d.enqueueJob(job)
		default:
		}
	}
}

// CancelUser drops every queued job for the user, invoking each job's
// Cancel hook. Jobs already handed to a worker still run to completion.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	q := d.queues[userID]
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	d.mu.Unlock()

	if q == nil {
		return
	}
	for _, job := range q.jobs {
		if job.Cancel != nil {
			job.Cancel()
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.UserID)
	d.positions[job.UserID] = elem
}

// dispatchOne takes the first user in the LRU and dispatches one of
// its jobs.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last queued job for the user, drop it from the LRU
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign job %s for user %d", job.Kind, userID)
	workerChan <- job
	return true
}
