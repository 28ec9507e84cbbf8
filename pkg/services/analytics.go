package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jrepp/sdkruntime/pkg/websocket"
)

const metricsQuery = `query Metrics($metric: String!, $from: DateTime!, $to: DateTime!, $groupBy: String) {
  metrics(metric: $metric, from: $from, to: $to, groupBy: $groupBy) {
    metric
    points { timestamp value }
  }
}`

// MetricsQuery selects a time series.
type MetricsQuery struct {
	Metric  string
	From    time.Time
	To      time.Time
	GroupBy string
}

// Validate checks the required fields and the time range.
func (q MetricsQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Metric, validation.Required),
		validation.Field(&q.From, validation.Required),
		validation.Field(&q.To, validation.Required, validation.By(func(interface{}) error {
			if !q.To.After(q.From) {
				return fmt.Errorf("must be after from")
			}
			return nil
		})),
	)
}

// Point is one sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is a metric's samples.
type Series struct {
	Metric string  `json:"metric"`
	Points []Point `json:"points"`
}

// Analytics queries metrics over GraphQL and streams live events over the
// WebSocket.
type Analytics struct {
	gql    GraphQL
	stream Stream

	mu   sync.Mutex
	subs int
}

func NewAnalytics(gql GraphQL, stream Stream) *Analytics {
	return &Analytics{gql: gql, stream: stream}
}

// Query fetches a time series. Identical queries are served from cache.
func (a *Analytics) Query(ctx context.Context, q MetricsQuery) (*Series, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	vars := map[string]interface{}{
		"metric": q.Metric,
		"from":   q.From.UTC().Format(time.RFC3339),
		"to":     q.To.UTC().Format(time.RFC3339),
	}
	if q.GroupBy != "" {
		vars["groupBy"] = q.GroupBy
	}

	var out struct {
		Metrics Series `json:"metrics"`
	}
	if err := a.gql.Query(ctx, metricsQuery, vars, &out); err != nil {
		return nil, err
	}
	return &out.Metrics, nil
}

// EventStream is a live analytics subscription.
type EventStream struct {
	a    *Analytics
	sub  *websocket.Subscription
	once sync.Once
}

// Close stops delivery. The stream disconnects once its last subscriber
// closes.
func (s *EventStream) Close() error {
	var err error
	s.once.Do(func() {
		s.sub.Unsubscribe()
		err = s.a.release()
	})
	return err
}

// Events delivers analytics events of eventType ("*" for all) to handler,
// connecting the stream if it is not already connected.
func (a *Analytics) Events(ctx context.Context, eventType string, handler websocket.Handler) (*EventStream, error) {
	if err := validation.Validate(eventType, validation.Required); err != nil {
		return nil, fmt.Errorf("event type: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream.State() == websocket.StateClosed {
		if err := a.stream.Connect(ctx); err != nil {
			return nil, err
		}
	}
	a.subs++

	return &EventStream{a: a, sub: a.stream.Subscribe(eventType, handler)}, nil
}

func (a *Analytics) release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.subs--
	if a.subs > 0 {
		return nil
	}
	return a.stream.Disconnect()
}
