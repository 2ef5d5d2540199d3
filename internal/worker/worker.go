// Package worker runs summarization, chat and narration jobs on an
// elastic pool with per-user fairness.
package worker

import "log"

// Job is one unit of work bound to the requesting user. Fairness is
// per UserID: one user flooding the queue cannot starve the others.
type Job struct {
	UserID int64
	Kind   string
	Run    func()

	// Cancel is called instead of Run when the job is dropped from the
	// queue before dispatch. Waiters blocked on Run's result need it.
	Cancel func()

	stop bool
}

type worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *worker {
	return &worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *worker) start() {
	go func() {
		// acquire only hands out channels from the idle list, so a
		// fresh worker registers there before its first receive
		w.pool.Release(w.jobChannel)
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.runJob(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

// runJob shields the pool from panicking jobs.
func (w *worker) runJob(job Job) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("worker: job %s for user %d panicked: %v", job.Kind, job.UserID, p)
		}
	}()
	job.Run()
}
