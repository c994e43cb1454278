package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/switchkit/celamqp/cel"
)

// StdinSource reads newline-delimited JSON call event records from stdin and
// hands each one to the dispatch function. Malformed lines are logged and
// skipped; they never stop the stream.
type StdinSource struct {
	in     io.Reader
	logger *slog.Logger
}

// NewStdinSource creates a source reading from stdin.
func NewStdinSource(logger *slog.Logger) *StdinSource {
	return &StdinSource{
		in:     os.Stdin,
		logger: logger,
	}
}

// Run reads records until EOF or context cancellation.
func (s *StdinSource) Run(ctx context.Context, dispatch func(context.Context, *cel.Record)) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec cel.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Error("skipping malformed event record", "error", err)
			continue
		}

		fillDefaults(&rec)
		dispatch(ctx, &rec)
	}

	return scanner.Err()
}

// fillDefaults completes identity fields the event source left blank.
func fillDefaults(rec *cel.Record) {
	if rec.UniqueID == "" {
		rec.UniqueID = uuid.NewString()
	}
	if rec.LinkedID == "" {
		rec.LinkedID = rec.UniqueID
	}
	if rec.EventTime.IsZero() {
		rec.EventTime = time.Now()
	}
}
