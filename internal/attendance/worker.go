package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/queue"
)

// payload is the queue body of an attendance.apply message.
type payload struct {
	JobID string `json:"jobId"`
	Rows  []Row  `json:"rows"`
}

// Enqueue records a queued job and publishes its rows for a worker.
func Enqueue(ctx context.Context, q queue.Queue, jobs JobStore, requestedBy string, rows []Row) (Job, error) {
	if len(rows) == 0 {
		return Job{}, apperr.Invalid("no attendance data to upload")
	}
	job, err := jobs.CreateJob(ctx, Job{RequestedBy: requestedBy, Rows: len(rows)})
	if err != nil {
		return Job{}, err
	}
	body, err := json.Marshal(payload{JobID: job.ID, Rows: rows})
	if err != nil {
		return Job{}, err
	}
	if err := q.Publish(ctx, queue.Message{Type: queue.TypeAttendanceApply, Body: body}); err != nil {
		err = fmt.Errorf("enqueue attendance job: %w", apperr.Unavailable(err))
		if ferr := jobs.FinishJob(context.WithoutCancel(ctx), job.ID, JobFailed, nil, err.Error()); ferr != nil {
			err = errors.Join(err, fmt.Errorf("mark job %s failed: %w", job.ID, ferr))
		}
		return Job{}, err
	}
	return job, nil
}

// Worker consumes attendance.apply messages and applies them.
type Worker struct {
	q    queue.Queue
	jobs JobStore
	svc  *Service
	log  *zap.Logger
}

// NewWorker creates a worker.
func NewWorker(q queue.Queue, jobs JobStore, svc *Service, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{q: q, jobs: jobs, svc: svc, log: log.Named("attendance-worker")}
}

// Run processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceApply {
			w.log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		w.handle(ctx, msg)
	}
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	var p payload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		w.log.Warn("undecodable job", zap.Error(err))
		return
	}
	log := w.log.With(zap.String("job_id", p.JobID), zap.Int("rows", len(p.Rows)))
	log.Info("processing job")

	rep, err := w.svc.Apply(ctx, p.Rows)
	status, errMsg := JobProcessed, ""
	if err != nil {
		status, errMsg = JobFailed, err.Error()
		log.Warn("job failed", zap.Error(err))
	}
	if ferr := w.jobs.FinishJob(context.WithoutCancel(ctx), p.JobID, status, &rep, errMsg); ferr != nil {
		log.Warn("record job outcome failed", zap.Error(ferr))
	}
}
