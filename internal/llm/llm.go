// Package llm talks to language-model services. Providers are thin: they
// send one prompt with one credential to one model and report failures as
// classified errors. Retry and fallback policy lives with the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request is a single generation call.
type Request struct {
	Model     string
	APIKey    string
	Prompt    string
	MaxTokens int
}

// Provider is the interface for LLM providers.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-success response from the service.
type StatusError struct {
	Code       int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("llm request: http %d %s: %s", e.Code, e.Status, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("llm request: http %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Class separates errors worth retrying with another credential from errors
// that will fail the same way no matter which key is used.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// transientSignals are matched against error text when no status code is
// available, e.g. errors wrapped by an SDK.
var transientSignals = []string{
	"429",
	"RESOURCE_EXHAUSTED",
	"RATE LIMIT",
	"RATE_LIMIT",
	"RATELIMIT",
	"TOO MANY REQUESTS",
	"QUOTA",
	"503",
	"UNAVAILABLE",
	"OVERLOADED",
}

// Classify decides whether err is transient.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusRequestTimeout,
			statusErr.Code == http.StatusTooManyRequests,
			statusErr.Code >= http.StatusInternalServerError:
			return Transient
		case statusErr.Code > 0:
			return Permanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	msg := strings.ToUpper(err.Error())
	for _, signal := range transientSignals {
		if strings.Contains(msg, signal) {
			return Transient
		}
	}
	return Permanent
}

// hardQuotaSignals mark limits that do not reset within a backoff window:
// daily quotas, zero allowances and billing problems. Gemini's per-minute
// 429 mentions "quota" too, so the word alone is not enough.
var hardQuotaSignals = []string{
	"PERDAY",
	"PER DAY",
	"PER_DAY",
	"LIMIT: 0",
	"INSUFFICIENT_QUOTA",
	"BILLING_DISABLED",
	"BILLING_NOT_ACTIVE",
}

// IsHardQuota reports whether err signals an exhausted quota rather than a
// short-lived rate limit. Waiting does not help against a hard quota.
func IsHardQuota(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		msg += " " + strings.ToUpper(statusErr.Status+" "+statusErr.Body)
	}
	for _, signal := range hardQuotaSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

// NewProvider builds the provider named in configuration.
func NewProvider(name, baseURL string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gemini", "google":
		return NewGeminiProvider(), nil
	case "openai":
		return NewOpenAIProvider(baseURL), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", name)
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}
