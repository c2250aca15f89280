package domain

import (
	"math"
	"strings"
	"time"
)

// RetryStatus represents the redelivery state of a bus message, used by the
// bounded-redelivery / dead-letter path of §7 kind 5.
type RetryStatus string

const (
	RetryStatusNone      RetryStatus = "none"
	RetryStatusRetrying  RetryStatus = "retrying"
	RetryStatusExhausted RetryStatus = "exhausted"
	RetryStatusDLQ       RetryStatus = "dlq"
)

// RetryConfig defines the bounded-redelivery policy a bus adapter applies
// to a handler that returned an internal fault (§7 kind 5). It is not used
// for business refusals (§7 kind 4), which are never retried.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// RetryableErrors/NonRetryableErrors are substring matches against the
	// error text. NonRetryableErrors is consulted first, then
	// RetryableErrors; an error matching neither defaults to retryable.
	RetryableErrors    []string
	NonRetryableErrors []string
}

// DefaultRetryConfig returns the redelivery policy used when a service
// boots without RETRY_* overrides (internal/config).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []string{
			"context deadline exceeded",
			"connection refused",
			"timeout",
			"temporary failure",
		},
		NonRetryableErrors: []string{
			ErrInvalidArgument.Error(),
			ErrNotFound.Error(),
			ErrConflict.Error(),
			ErrUnknownOrder.Error(),
		},
	}
}

// RetryInfo tracks redelivery attempts for a single in-flight message.
type RetryInfo struct {
	AttemptCount  int
	MaxAttempts   int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	RetryStatus   RetryStatus
	LastError     string
	ErrorHistory  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShouldRetry reports whether another redelivery attempt should happen for
// err under config.
func (ri *RetryInfo) ShouldRetry(err error, config RetryConfig) bool {
	if ri.AttemptCount >= config.MaxRetries {
		return false
	}
	if ri.RetryStatus == RetryStatusDLQ {
		return false
	}
	errorStr := err.Error()
	for _, nonRetryableErr := range config.NonRetryableErrors {
		if strings.Contains(errorStr, nonRetryableErr) {
			return false
		}
	}
	for _, retryableErr := range config.RetryableErrors {
		if strings.Contains(errorStr, retryableErr) {
			return true
		}
	}
	return true
}

// CalculateNextRetryDelay computes the exponential backoff delay for the
// next redelivery attempt, with optional jitter.
func (ri *RetryInfo) CalculateNextRetryDelay(config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(ri.AttemptCount)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.Jitter {
		delay += time.Duration(float64(delay) * 0.1)
	}
	return delay
}

// UpdateRetryAttempt records one more failed attempt.
func (ri *RetryInfo) UpdateRetryAttempt(err error) {
	ri.AttemptCount++
	now := time.Now()
	ri.LastAttemptAt = now
	ri.UpdatedAt = now
	if err != nil {
		ri.LastError = err.Error()
		ri.ErrorHistory = append(ri.ErrorHistory, err.Error())
	}
}

// MarkAsExhausted marks the message as having exhausted its redelivery budget.
func (ri *RetryInfo) MarkAsExhausted() {
	ri.RetryStatus = RetryStatusExhausted
	ri.UpdatedAt = time.Now()
}

// MarkAsDLQ marks the message as routed to the dead-letter sink.
func (ri *RetryInfo) MarkAsDLQ() {
	ri.RetryStatus = RetryStatusDLQ
	ri.UpdatedAt = time.Now()
}

// MarkAsRetrying marks the message as currently being retried.
func (ri *RetryInfo) MarkAsRetrying() {
	ri.RetryStatus = RetryStatusRetrying
	ri.UpdatedAt = time.Now()
}

// DeadLetter is a message that exhausted its redelivery budget (§7 kind 5).
type DeadLetter struct {
	Exchange      Exchange
	RoutingKey    RoutingKey
	Payload       []byte
	RetryInfo     RetryInfo
	FailureReason string
	MovedAt       time.Time
}
