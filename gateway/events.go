// Copyright 2026 TaskMesh
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

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Event is a single orchestration decision broadcast to observers.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventSink delivers events to an external transport (dashboards, message
// bus). Sinks may fail; the stream logs and moves on.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventStream is the fire-and-forget broadcast channel for orchestration
// decisions. It never blocks the request path and never surfaces errors.
//
// A nil *EventStream is valid: Emit on a nil stream is a no-op, so
// components can hold an uninitialized stream without guarding every call.
type EventStream struct {
	sinks  []EventSink
	logger *log.Logger

	mu     sync.Mutex
	recent []Event
	limit  int
}

// NewEventStream creates a stream broadcasting to the given sinks. The
// stream also retains a bounded in-memory tail of recent events for the
// metrics accessor.
func NewEventStream(sinks ...EventSink) *EventStream {
	active := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &EventStream{
		sinks:  active,
		logger: log.New(os.Stdout, "[EVENT_STREAM] ", log.LstdFlags),
		limit:  256,
	}
}

// Emit broadcasts an event. Safe to call on a nil stream. Delivery to
// sinks happens on a background goroutine with a short timeout; a failing
// sink is logged and skipped.
func (s *EventStream) Emit(eventType string, payload map[string]interface{}) {
	if s == nil {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	s.mu.Lock()
	s.recent = append(s.recent, event)
	if len(s.recent) > s.limit {
		s.recent = s.recent[len(s.recent)-s.limit:]
	}
	s.mu.Unlock()

	if len(s.sinks) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, sink := range s.sinks {
			if err := sink.Publish(ctx, event); err != nil {
				s.logger.Printf("sink publish failed for %s: %v", eventType, err)
			}
		}
	}()
}

// Recent returns a copy of the retained event tail, newest last.
func (s *EventStream) Recent() []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.recent))
	copy(out, s.recent)
	return out
}

// RedisSink publishes events to a Redis pub/sub channel so dashboard
// processes on other hosts can observe routing decisions.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// DefaultEventChannel is the Redis channel used when none is configured.
const DefaultEventChannel = "taskmesh:gateway:events"

// NewRedisSink connects to Redis and returns a sink, verifying the
// connection with a short ping.
func NewRedisSink(redisURL, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if channel == "" {
		channel = DefaultEventChannel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Publish implements EventSink.
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
