package logsink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the Redis client used by StreamSink.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamSink appends each document to a Redis stream.
type StreamSink struct {
	client StreamClient
	stream string
	maxLen int64
}

// StreamOption configures a StreamSink.
type StreamOption func(*StreamSink)

// WithMaxLenApprox caps the stream at roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) StreamOption {
	return func(s *StreamSink) {
		if maxLen > 0 {
			s.maxLen = maxLen
		}
	}
}

func NewStreamSink(client StreamClient, stream string, opts ...StreamOption) (*StreamSink, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	s := &StreamSink{client: client, stream: stream}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *StreamSink) Name() string { return "redis:" + s.stream }

func (s *StreamSink) Write(ctx context.Context, b Batch) error {
	for _, doc := range b.Documents {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"batch":    b.ID,
				"log_type": doc.LogType,
				"document": raw,
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *StreamSink) Close() error { return nil }
