// Package kafkabus implements domain.Bus on top of Kafka/Redpanda
// (twmb/franz-go), mapping the topic-exchange/routing-key contract of §4.7
// onto Kafka's topic/partition-key model.
//
// Every durable topic exchange (commands, events, responses) is a Kafka
// topic. A binding ("queue X bound to exchange E with routing key K") is
// modeled as its own consumer group named "<exchange>.<key>": Kafka has no
// server-side routing-key filtering, so each binding's consumer reads every
// record published to the topic and discards (acks without dispatch) any
// whose key does not match, exactly reproducing topic-exchange fan-out
// semantics at the client. Publish uses a blocking ProduceSync, which is
// this adapter's publisher confirm. Prefetch=1 is modeled by handing the
// fetched records to the handler one at a time, each to completion
// (including in-place retries) before the next; each record's offset is
// marked once its handler returns, and the marked offsets are committed
// after every polled batch.
package kafkabus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/observability"
)

// Bus is a domain.Bus backed by Kafka/Redpanda.
type Bus struct {
	brokers     []string
	client      *kgo.Client
	retryConfig domain.RetryConfig
}

// New connects to brokers, retrying with backoff up to maxElapsed before
// giving up (§7 kind 1: transport fault at startup). retryConfig governs
// the bounded-redelivery/dead-letter behavior every Subscribe binding
// applies to handler failures (§7 kind 5).
func New(ctx context.Context, brokers []string, maxElapsed time.Duration, retryConfig domain.RetryConfig) (*Bus, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafkabus.new: no seed brokers provided")
	}

	var client *kgo.Client
	operation := func() error {
		c, err := kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.RequestRetries(10))
		if err != nil {
			return err
		}
		if err := c.Ping(ctx); err != nil {
			c.Close()
			return err
		}
		client = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("op=kafkabus.new: %w", err)
	}

	topics := []string{string(domain.ExchangeCommands), string(domain.ExchangeEvents), string(domain.ExchangeResponses), deadLetterTopic}
	for _, exchange := range topics {
		if err := declareTopic(ctx, client, exchange, 3, 1); err != nil {
			slog.Warn("failed to declare exchange topic, assuming it already exists",
				slog.String("exchange", string(exchange)), slog.Any("error", err))
		}
	}

	return &Bus{brokers: brokers, client: client, retryConfig: retryConfig}, nil
}

// deadLetterTopic is the fixed sink every exchange's exhausted redeliveries
// are routed to (§7 kind 5). It is declared alongside the three exchanges.
const deadLetterTopic = "dead_letter"

// Publish blocks until the broker confirms the write.
func (b *Bus) Publish(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, body []byte) error {
	record := &kgo.Record{
		Topic: string(exchange),
		Key:   []byte(key),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "routing_key", Value: []byte(key)},
		},
	}
	result := b.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		observability.RecordBusConsumed(string(exchange), string(key), "publish_error")
		return fmt.Errorf("op=kafkabus.publish exchange=%s key=%s: %w", exchange, key, err)
	}
	observability.RecordBusPublished(string(exchange), string(key))
	return nil
}

// Subscribe binds a durable per-binding consumer group to exchange/key and
// invokes handler for every matching message, one at a time. It blocks
// until ctx is canceled.
func (b *Bus) Subscribe(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, handler domain.Handler) error {
	groupID := fmt.Sprintf("%s.%s", exchange, key)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ConsumeTopics(string(exchange)),
		kgo.ConsumerGroup(groupID),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("op=kafkabus.subscribe exchange=%s key=%s: %w", exchange, key, err)
	}
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("bus fetch error", slog.String("exchange", string(exchange)), slog.Any("error", fe.Err))
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			if wildcardOrMatch(key, rec.Key) {
				msg := domain.Message{Exchange: exchange, RoutingKey: key, Body: rec.Value}
				b.deliverWithRetry(ctx, msg, handler)
			}
			// Every binding's consumer commits its own offset regardless of
			// whether the record matched its routing key: a non-matching
			// record belongs to a different binding's queue, not this one.
			client.MarkCommitRecords(rec)
		})
		if err := client.CommitMarkedOffsets(ctx); err != nil {
			slog.Error("bus offset commit failed", slog.String("exchange", string(exchange)), slog.Any("error", err))
		}
	}
}

// deliverWithRetry invokes handler, retrying in place (blocking this
// binding's single in-flight slot, per prefetch=1) per b.retryConfig on
// failure, and routes to the dead-letter sink once the budget is exhausted
// (§7 kind 5).
func (b *Bus) deliverWithRetry(ctx domain.Context, msg domain.Message, handler domain.Handler) {
	info := &domain.RetryInfo{MaxAttempts: b.retryConfig.MaxRetries}
	for {
		err := handler(ctx, msg)
		if err == nil {
			observability.RecordBusConsumed(string(msg.Exchange), string(msg.RoutingKey), "ack")
			return
		}
		info.UpdateRetryAttempt(err)
		if !info.ShouldRetry(err, b.retryConfig) {
			observability.RecordBusConsumed(string(msg.Exchange), string(msg.RoutingKey), "dead_letter")
			info.MarkAsExhausted()
			b.sendToDeadLetter(ctx, msg, *info, err)
			return
		}
		info.MarkAsRetrying()
		delay := info.CalculateNextRetryDelay(b.retryConfig)
		slog.Warn("bus handler failed, retrying",
			slog.String("exchange", string(msg.Exchange)), slog.String("routing_key", string(msg.RoutingKey)),
			slog.Int("attempt", info.AttemptCount), slog.Duration("delay", delay), slog.Any("error", err))
		observability.RecordBusConsumed(string(msg.Exchange), string(msg.RoutingKey), "retry")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (b *Bus) sendToDeadLetter(ctx domain.Context, msg domain.Message, info domain.RetryInfo, cause error) {
	dl := domain.DeadLetter{
		Exchange:      msg.Exchange,
		RoutingKey:    msg.RoutingKey,
		Payload:       msg.Body,
		RetryInfo:     info,
		FailureReason: cause.Error(),
	}
	body, err := json.Marshal(dl)
	if err != nil {
		slog.Error("dead letter marshal failed", slog.Any("error", err))
		return
	}
	record := &kgo.Record{Topic: deadLetterTopic, Key: []byte(msg.RoutingKey), Value: body}
	if result := b.client.ProduceSync(ctx, record); result.FirstErr() != nil {
		slog.Error("dead letter publish failed", slog.String("exchange", string(msg.Exchange)),
			slog.String("routing_key", string(msg.RoutingKey)), slog.Any("error", result.FirstErr()))
	}
}

func wildcardOrMatch(bound domain.RoutingKey, recordKey []byte) bool {
	if bound == domain.KeyWildcard {
		return true
	}
	return string(recordKey) == string(bound)
}

// Close disconnects the publisher client.
func (b *Bus) Close() error {
	if b.client != nil {
		b.client.Close()
	}
	return nil
}

func declareTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, t := range createResp.Topics {
		if t.ErrorCode != 0 {
			if t.ErrorCode == 36 { // TOPIC_ALREADY_EXISTS
				return nil
			}
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("create topic error: %s (code %d)", msg, t.ErrorCode)
		}
	}
	return nil
}
