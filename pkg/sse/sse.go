// Package sse streams answers to HTTP clients as Server-Sent Events.
//
// A stream is a sequence of "delta" events carrying answer text, ended by
// one "answer" event with the full response or one "error" event.
//
// Example:
//
//	stream := sse.New(w).WithKeepAlive(15 * time.Second)
//	defer stream.Stop()
//	resp, err := la.AskStream(ctx, q, stream.Sink())
//	if err != nil {
//		_ = stream.Error(err)
//		return
//	}
//	_ = stream.Answer(resp)
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// Event names.
const (
	EventDelta  = "delta"
	EventAnswer = "answer"
	EventError  = "error"
)

// DeltaData is the payload of a delta event.
type DeltaData struct {
	Content string `json:"content"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// Writer writes events to an http.ResponseWriter. It is safe for
// concurrent use.
type Writer struct {
	writer  http.ResponseWriter
	flusher http.Flusher

	mu              sync.Mutex
	keepAliveCancel context.CancelFunc
}

// New sets the event-stream headers on w and returns a Writer.
func New(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		flusher = noopFlusher{}
	}
	return &Writer{writer: w, flusher: flusher}
}

// WithKeepAlive writes a comment line every interval until Stop is called,
// so idle proxies keep the connection open during retrieval.
func (s *Writer) WithKeepAlive(interval time.Duration) *Writer {
	if interval <= 0 {
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.keepAliveCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.write(": keep-alive\n\n"); err != nil {
					return
				}
			}
		}
	}()
	return s
}

// Stop ends the keep-alive loop.
func (s *Writer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepAliveCancel != nil {
		s.keepAliveCancel()
		s.keepAliveCancel = nil
	}
}

// Sink returns a completion.Sink that sends each delta as an event.
func (s *Writer) Sink() completion.Sink {
	return func(delta string) error {
		return s.event(EventDelta, DeltaData{Content: delta})
	}
}

// Answer sends the final response.
func (s *Writer) Answer(resp *counsel.Response) error {
	s.Stop()
	return s.event(EventAnswer, resp)
}

// Error sends a user-facing rendering of err.
func (s *Writer) Error(err error) error {
	s.Stop()
	return s.event(EventError, ErrorData{
		Error:     counsel.UserMessage(err),
		Kind:      counsel.KindOf(err).String(),
		Retryable: counsel.Retryable(err),
	})
}

func (s *Writer) event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, payload))
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write([]byte(frame)); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

type noopFlusher struct{}

func (noopFlusher) Flush() {}
