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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/corrit-electric/autopay"
	"github.com/corrit-electric/autopay/config"
	redis_db "github.com/corrit-electric/autopay/internal/redis-db"
	"github.com/corrit-electric/autopay/model"
)

const (
	taskSweepSchedule = "sweep:schedule-debits"
	taskSweepPoll     = "sweep:poll-inflight"
	taskSweepExpiry   = "sweep:mandate-expiry"
)

// processDebit submits a scheduled attempt to the gateway. Attempts for
// the same mandate land on the same queue, so submissions never race.
func (b *autopayInstance) processDebit(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("autopay.debit.worker").Start(ctx, "Process Debit From Redis Queue")
	defer span.End()

	var attempt model.DebitAttempt
	if err := json.Unmarshal(t.Payload(), &attempt); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.engine.ProcessScheduledDebit(ctx, &attempt); err != nil {
		logrus.Infof("Debit attempt %s pushed back for retry due to error: %v", attempt.DebitID, err)
		return err
	}

	log.Println(" [*] Debit Attempt Submitted", attempt.DebitID)
	return nil
}

// processPoll resolves one gateway order: a mandate-setup confirmation or
// an in-flight debit, depending on the payload.
func (b *autopayInstance) processPoll(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("autopay.poll.worker").Start(ctx, "Process Poll From Redis Queue")
	defer span.End()

	var poll autopay.PollTaskPayload
	if err := json.Unmarshal(t.Payload(), &poll); err != nil {
		logrus.Error(err)
		return err
	}

	if poll.MandateID != "" {
		return b.engine.ConfirmMandateSetup(ctx, poll.MandateID)
	}
	return b.engine.ResolveDebitPoll(ctx, poll.AttemptID)
}

func (b *autopayInstance) processScheduleSweep(ctx context.Context, _ *asynq.Task) error {
	return b.engine.ScheduleDueDebits(ctx)
}

func (b *autopayInstance) processPollSweep(ctx context.Context, _ *asynq.Task) error {
	if err := b.engine.ConfirmPendingSetups(ctx); err != nil {
		return err
	}
	return b.engine.PollInflightDebits(ctx)
}

func (b *autopayInstance) processExpirySweep(ctx context.Context, _ *asynq.Task) error {
	return b.engine.SweepMandateExpiry(ctx)
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.PollQueue] = 2

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DebitQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *autopayInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DebitQueue, i)
		mux.HandleFunc(queueName, b.processDebit)
	}

	mux.HandleFunc(cfg.Queue.PollQueue, b.processPoll)
	mux.HandleFunc(cfg.Queue.WebhookQueue, autopay.ProcessWebhook)

	mux.HandleFunc(taskSweepSchedule, b.processScheduleSweep)
	mux.HandleFunc(taskSweepPoll, b.processPollSweep)
	mux.HandleFunc(taskSweepExpiry, b.processExpirySweep)
}

// initializeScheduler registers the recurring sweeps: scheduling the next
// due debits, polling unresolved attempts and retiring expired mandates.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		nil,
	)

	entries := []struct {
		cron string
		task string
	}{
		{cron: "*/10 * * * *", task: taskSweepSchedule},
		{cron: "*/15 * * * *", task: taskSweepPoll},
		{cron: "0 1 * * *", task: taskSweepExpiry},
	}
	for _, entry := range entries {
		if _, err := scheduler.Register(entry.cron, asynq.NewTask(entry.task, nil, asynq.Queue(conf.Queue.PollQueue))); err != nil {
			return nil, fmt.Errorf("error registering %s: %v", entry.task, err)
		}
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command. The workers drain the
// debit, poll and webhook queues and run the recurring sweeps.
func workerCommands(b *autopayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start autopay workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
