// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

// Job statuses
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobUpdate is delivered to job subscribers after every job write
type JobUpdate struct {
	ID     string
	Status string
	Job    entity.Record
}

// AddJob creates a pending job
func (r *Repository) AddJob(ctx context.Context, jobType string, payload any, priority int) (entity.Record, error) {
	if jobType == "" {
		return nil, fmt.Errorf("failed to add job: type is required")
	}
	job := entity.Record{
		"type":             jobType,
		"payload":          payload,
		"priority":         priority,
		entity.FieldStatus: JobPending,
		"result":           nil,
		"error":            nil,
		"started_at":       nil,
		"completed_at":     nil,
	}
	saved, err := r.Save(ctx, entity.Jobs, job)
	if saved != nil {
		r.publishJob(saved)
	}
	return saved, err
}

// UpdateJobStatus moves a job to status. running stamps started_at,
// completed and failed stamp completed_at.
func (r *Repository) UpdateJobStatus(ctx context.Context, id, status string, result any, errMsg string) (entity.Record, error) {
	extra := entity.Record{}
	if result != nil {
		extra["result"] = result
	}
	if errMsg != "" {
		extra["error"] = errMsg
	}
	now := entity.FormatTime(r.now())
	switch status {
	case JobRunning:
		extra["started_at"] = now
	case JobCompleted, JobFailed:
		extra["completed_at"] = now
	}

	job, err := r.UpdateStatus(ctx, entity.Jobs, id, status, extra)
	if job != nil {
		r.publishJob(job)
	}
	return job, err
}

// SubscribeToJobUpdates registers fn for job changes made through this repository
func (r *Repository) SubscribeToJobUpdates(fn func(JobUpdate)) (unsubscribe func()) {
	r.jobMu.Lock()
	id := r.nextJobSub
	r.nextJobSub++
	r.jobSubs[id] = fn
	r.jobOrder = append(r.jobOrder, id)
	r.jobMu.Unlock()

	return func() {
		r.jobMu.Lock()
		defer r.jobMu.Unlock()
		delete(r.jobSubs, id)
		for i, v := range r.jobOrder {
			if v == id {
				r.jobOrder = append(r.jobOrder[:i], r.jobOrder[i+1:]...)
				break
			}
		}
	}
}

func (r *Repository) publishJob(job entity.Record) {
	r.jobMu.Lock()
	subs := make([]func(JobUpdate), 0, len(r.jobOrder))
	for _, id := range r.jobOrder {
		subs = append(subs, r.jobSubs[id])
	}
	r.jobMu.Unlock()

	update := JobUpdate{ID: job.ID(), Status: job.String(entity.FieldStatus), Job: job}
	for _, fn := range subs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("Job subscriber panicked", "job", update.ID, "panic", p)
				}
			}()
			fn(JobUpdate{ID: update.ID, Status: update.Status, Job: update.Job.Clone()})
		}()
	}
}
