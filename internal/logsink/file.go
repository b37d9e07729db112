package logsink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends documents as JSON lines terminated by CRLF, the framing
// logstash's json_lines codec expects.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink path is required")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileSink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Name() string { return "file:" + s.path }

// Write encodes every document, then flushes and fsyncs even when encoding
// fails part way so earlier lines are durable.
func (s *FileSink) Write(ctx context.Context, b Batch) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("file sink closed")
	}
	defer func() {
		if ferr := s.w.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		if serr := s.f.Sync(); serr != nil && err == nil {
			err = serr
		}
	}()
	for _, doc := range b.Documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		if _, err := s.w.Write(raw); err != nil {
			return err
		}
		if _, err := s.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	ferr := s.w.Flush()
	err := s.f.Close()
	s.f = nil
	if ferr != nil {
		return ferr
	}
	return err
}
