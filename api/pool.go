package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"study-mate/config"
	"study-mate/domain"
)

type sessionJob struct {
	cmd      domain.SessionCommand
	dedupKey string     // recorded in the deduper, removed again when the enqueue fails
	result   chan error // buffered; receives the outcome of the queue write when set
}

func newSessionJob(cmd domain.SessionCommand, dedupKey string) sessionJob {
	return sessionJob{cmd: cmd, dedupKey: dedupKey, result: make(chan error, 1)}
}

// sessionSender bounds concurrent session queue writes to a fixed set of
// workers. Callers wait for the write result before answering.
type sessionSender struct {
	store   Store
	deduper Deduper
	log     *log.Logger

	jobs           chan sessionJob
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

func newSessionSender(store Store, deduper Deduper, cfg config.EnqueueConfig, logger *log.Logger) *sessionSender {
	if logger == nil {
		panic("api: logger is not initialized")
	}
	s := &sessionSender{
		store:          store,
		deduper:        deduper,
		log:            logger,
		jobs:           make(chan sessionJob, max(cfg.Buffer, 1)),
		enqueueTimeout: cfg.Timeout,
		handoffTimeout: cfg.HandoffTimeout,
	}
	if s.enqueueTimeout <= 0 {
		s.enqueueTimeout = time.Minute
	}
	workers := max(cfg.Workers, 1)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("session sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, cap(s.jobs), s.enqueueTimeout, s.handoffTimeout)
	return s
}

// Close stops accepting jobs and waits for queued ones to be sent.
func (s *sessionSender) Close() {
	s.closeOnce.Do(func() { close(s.jobs) })
	s.wg.Wait()
}

func (s *sessionSender) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		err := s.send(j)
		if err != nil {
			s.log.WithError(err).WithFields(log.Fields{"user": j.cmd.UserID, "session": j.cmd.ID, "worker": id}).Error("enqueue failed")
		}
		if j.result != nil {
			j.result <- err
		}
	}
}

// wait blocks until a worker has written job or ctx is done. The write
// itself is not cancelled with ctx.
func (s *sessionSender) wait(ctx context.Context, job sessionJob) error {
	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send enqueues the command with its own timeout, independent of the request
// that accepted it.
func (s *sessionSender) send(j sessionJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
	defer cancel()
	err := s.store.EnqueueSession(ctx, j.cmd)
	if err != nil && j.dedupKey != "" && s.deduper != nil {
		if rerr := s.deduper.Remove(context.Background(), j.cmd.UserID, j.dedupKey); rerr != nil {
			s.log.WithError(rerr).WithFields(log.Fields{"user": j.cmd.UserID, "key": j.dedupKey}).Error("dedupe rollback failed")
		}
	}
	return err
}

// tryEnqueue hands the job to a worker, waiting at most handoffTimeout for
// buffer space. It returns false when the caller should send inline.
func (s *sessionSender) tryEnqueue(job sessionJob) bool {
	if ok, closed := trySendNonBlocking(s.jobs, job); closed {
		return false
	} else if ok {
		return true
	}
	if s.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(s.handoffTimeout)
	defer timer.Stop()
	ok, _ := sendWithTimer(s.jobs, job, timer.C)
	return ok
}

func trySendNonBlocking(ch chan sessionJob, job sessionJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok, closed = false, true
		}
	}()
	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan sessionJob, job sessionJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok, closed = false, true
		}
	}()
	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
