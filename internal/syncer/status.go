package syncer

// TaskInfo describes a queued task.
type TaskInfo struct {
	ID         string `json:"id"`
	Retries    int    `json:"retries"`
	MaxRetries int    `json:"max_retries"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Syncing        bool       `json:"syncing"`
	Disposed       bool       `json:"disposed"`
	Queue          []TaskInfo `json:"queue"`
	PendingBackoff int64      `json:"pending_backoff"`
	LastRun        *Result    `json:"last_run,omitempty"`
}

// Status returns the queue and the outcome of the last completed run.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Syncing:        c.syncing.Load(),
		Disposed:       c.disposed.Load(),
		Queue:          make([]TaskInfo, 0, len(c.queue)),
		PendingBackoff: c.backoffs.Load(),
	}
	for _, t := range c.queue {
		st.Queue = append(st.Queue, TaskInfo{ID: t.id, Retries: t.retries, MaxRetries: t.maxRetries})
	}
	if c.lastRun != nil {
		last := *c.lastRun
		st.LastRun = &last
	}
	return st
}

// QueueLen returns the number of queued tasks.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
