/*
Copyright 2024 Corrit Electric Authors.

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

package autopay

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/corrit-electric/autopay/config"
	redis_db "github.com/corrit-electric/autopay/internal/redis-db"
	"github.com/corrit-electric/autopay/model"
)

// Queue fans tasks out to the asynq workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// PollTaskPayload identifies a gateway order whose status needs resolving.
// Debit polls carry the attempt ID; mandate-setup polls carry the mandate
// ID instead.
type PollTaskPayload struct {
	AttemptID string `json:"attempt_id,omitempty"`
	MandateID string `json:"mandate_id,omitempty"`
	OrderID   string `json:"order_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueDebit places a scheduled debit attempt on its mandate's queue.
// Attempts for the same mandate always hash to the same queue, so they are
// processed serially and cannot race each other on the mandate's state.
func (q *Queue) EnqueueDebit(ctx context.Context, attempt *model.DebitAttempt) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	queueIndex := hashMandateID(attempt.MandateID) % cfg.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cfg.Queue.DebitQueue, queueIndex+1)

	taskOptions := []asynq.Option{asynq.TaskID(attempt.DebitID), asynq.Queue(queueName), asynq.MaxRetry(5)}
	if attempt.ScheduledDate.After(time.Now()) {
		taskOptions = append(taskOptions, asynq.ProcessIn(time.Until(attempt.ScheduledDate)))
	}

	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued debit attempt: %+v", attempt.DebitID)
	return nil
}

// EnqueuePoll schedules a status poll for a submitted order.
func (q *Queue) EnqueuePoll(ctx context.Context, poll PollTaskPayload, processIn time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.PollQueue), asynq.MaxRetry(cfg.Queue.MaxPollRetries)}
	if processIn > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(processIn))
	}
	task := asynq.NewTask(cfg.Queue.PollQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetDebitFromQueue retrieves a queued attempt by its ID, checking each of
// the hashed debit queues.
func (q *Queue) GetDebitFromQueue(attemptID string) (*model.DebitAttempt, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DebitQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, attemptID)
		if err != nil {
			continue
		}
		if task != nil {
			var attempt model.DebitAttempt
			if err := json.Unmarshal(task.Payload, &attempt); err != nil {
				return nil, err
			}
			return &attempt, nil
		}
	}
	return nil, fmt.Errorf("attempt %s not found in any queue", attemptID)
}

// hashMandateID returns a consistent hash value for a mandate ID.
func hashMandateID(mandateID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(mandateID))
	return int(hasher.Sum32())
}
