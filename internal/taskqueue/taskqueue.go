/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package taskqueue dispatches analysis and export jobs to worker
// processes over the same Redis instance the progress store uses,
// rather than standing up a second broker (see the design notes on
// this choice).
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/riskline/internal/errkind"
)

// TaskKind distinguishes the two job types a worker may dequeue.
type TaskKind string

const (
	KindAnalysis TaskKind = "analysis"
	KindExport   TaskKind = "export"
)

// Task is one unit of dispatched work. Attempt counts prior
// deliveries of the same task, so workers can stop re-enqueueing once
// the kind's retry budget is spent.
type Task struct {
	Kind    TaskKind `json:"kind"`
	ID      string   `json:"id"`
	Attempt int      `json:"attempt"`
}

const queueKey = "riskline:tasks"

// Queue enqueues and dequeues tasks over a reliable-queue pattern: a
// dequeued task is immediately mirrored onto a per-consumer
// processing list, so a worker that crashes mid-task leaves it
// recoverable rather than lost. Ack removes it once the task
// succeeds; Recover, run at worker startup, drains whatever the
// previous process of the same consumer name left behind back onto
// the main queue.
type Queue struct {
	client        *redis.Client
	processingKey string
}

func New(client *redis.Client, consumerName string) *Queue {
	return &Queue{client: client, processingKey: queueKey + ":processing:" + consumerName}
}

func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "marshal task")
	}
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "enqueue task")
	}
	return nil
}

// Dequeue blocks up to timeout for a task, returning (task, true, nil)
// on success or (zero, false, nil) on a clean timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, errkind.Wrap(errkind.TransientUpstream, err, "dequeue task")
	}
	// result is [queueKey, payload]
	raw := result[1]

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, false, errkind.Wrap(errkind.Internal, err, "unmarshal task")
	}

	if err := q.client.LPush(ctx, q.processingKey, raw).Err(); err != nil {
		return Task{}, false, errkind.Wrap(errkind.Internal, err, "mirror task to processing list")
	}
	return task, true, nil
}

// Recover moves every task stranded on this consumer's processing
// list (a prior process of the same name crashed between Dequeue and
// Ack) back onto the main queue, returning how many were moved.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey, queueKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, errkind.Wrap(errkind.Internal, err, "recover stranded task")
		}
		recovered++
	}
}

// Ack removes a successfully processed task from the consumer's
// processing list.
func (q *Queue) Ack(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "marshal task")
	}
	if err := q.client.LRem(ctx, q.processingKey, 1, data).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "ack task")
	}
	return nil
}
