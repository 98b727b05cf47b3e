// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// ClientConfig describes the Kafka connection used for task dispatch.
type ClientConfig struct {
	Brokers  []string
	Topic    string
	Group    string
	ClientID string
}

// NewClient builds a franz-go client. A non-empty Group makes it a group
// consumer of Topic with manual commits.
func NewClient(cfg ClientConfig) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Group != "" {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.Group),
			kgo.ConsumeTopics(cfg.Topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
			kgo.DisableAutoCommit(),
		)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if the cluster does not have it yet.
func EnsureTopic(ctx context.Context, client kmsg.Requestor, topic string, partitions int32, replicas int16) error {
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = 10000
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replicas
	req.Topics = append(req.Topics, t)
	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, rt := range resp.Topics {
		if rt.Topic != topic {
			continue
		}
		if err := kerr.ErrorForCode(rt.ErrorCode); err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		return nil
	}
	return fmt.Errorf("create topic %s: missing from response", topic)
}

type producerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher writes row tasks to the task topic.
type Publisher struct {
	client producerClient
	topic  string
}

// NewPublisher returns a publisher producing to topic.
func NewPublisher(client producerClient, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish produces tasks synchronously and returns the first failure.
func (p *Publisher) Publish(ctx context.Context, tasks ...RowTask) error {
	if len(tasks) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(tasks))
	for _, t := range tasks {
		if err := t.validate(); err != nil {
			return err
		}
		records = append(records, &kgo.Record{Topic: p.topic, Key: t.Key(), Value: EncodeTask(t)})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publish tasks: %w", err)
	}
	return nil
}

type consumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Handler processes one task.
type Handler func(ctx context.Context, t RowTask) error

// ConsumerConfig tunes redelivery of failed tasks.
type ConsumerConfig struct {
	// MaxAttempts bounds republishing of a failing task. Zero disables retries.
	MaxAttempts int32
	// Retry publishes failed tasks again; nil disables retries.
	Retry *Publisher
	// PollTimeout bounds one poll so Run notices cancellation.
	PollTimeout time.Duration
}

// Consumer drives a Handler from the task topic. Records are committed only
// after their task was handled, republished or rejected as malformed.
type Consumer struct {
	client consumerClient
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer wraps a group consumer client.
func NewConsumer(client consumerClient, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Consumer{client: client, cfg: cfg, logger: logger}
}

// Run polls until ctx is done or the client is closed. A task that fails
// after its retries are exhausted stops Run without committing it.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		fetches := c.client.PollFetches(pollCtx)
		cancel()
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
				continue
			}
			c.logger.Warn("fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		}
		var failed error
		fetches.EachRecord(func(rec *kgo.Record) {
			if failed != nil {
				return
			}
			failed = c.process(ctx, rec, handle)
		})
		if failed != nil {
			return failed
		}
	}
}

func (c *Consumer) process(ctx context.Context, rec *kgo.Record, handle Handler) error {
	task, err := DecodeTask(rec.Value)
	if err != nil {
		c.logger.Error("dropping malformed task", "partition", rec.Partition, "offset", rec.Offset, "error", err)
		return c.commit(ctx, rec)
	}
	if err := handle(ctx, task); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if c.cfg.Retry == nil || task.Attempt+1 >= c.cfg.MaxAttempts {
			return fmt.Errorf("task %s rows [%d,%d): %w", task.Job, task.FirstRow, task.EndRow, err)
		}
		c.logger.Warn("task failed, republishing", "job", task.Job, "image", task.Image, "first_row", task.FirstRow, "attempt", task.Attempt, "error", err)
		task.Attempt++
		if err := c.cfg.Retry.Publish(ctx, task); err != nil {
			return err
		}
	}
	return c.commit(ctx, rec)
}

func (c *Consumer) commit(ctx context.Context, rec *kgo.Record) error {
	if err := c.client.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("commit offset %d: %w", rec.Offset, err)
	}
	return nil
}
