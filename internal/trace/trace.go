// Package trace consumes the scheduler's status stream: a CSV file, a
// structured log and Prometheus collectors.
package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tickrt/internal/sched"
)

// Sink receives every status event in order.
type Sink interface {
	Handle(ev sched.StatusEvent) error
}

// Pump feeds events to the sinks until the stream is closed. A failing sink
// does not stop the others; the first error is returned at the end.
func Pump(ch <-chan sched.StatusEvent, sinks ...Sink) error {
	var first error
	for ev := range ch {
		for _, s := range sinks {
			if err := s.Handle(ev); err != nil && first == nil {
				first = err
			}
		}
	}
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// CSV writes one row per event.
type CSV struct {
	w     *csv.Writer
	c     io.Closer
	ticks bool
}

var csvHeader = []string{"timestamp", "tick", "event", "task_id", "task", "priority", "object"}

// NewCSV writes to w. Tick events are skipped unless ticks is set.
func NewCSV(w io.Writer, ticks bool) (*CSV, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	return &CSV{w: cw, ticks: ticks}, cw.Error()
}

// CreateCSV opens the given file path for CSV tracing.
func CreateCSV(path string, ticks bool) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c, err := NewCSV(f, ticks)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	c.c = f
	return c, nil
}

func (c *CSV) Handle(ev sched.StatusEvent) error {
	if ev.Kind == sched.StatusTick && !c.ticks {
		return nil
	}
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(uint64(ev.Tick), 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		ev.Task,
		strconv.Itoa(int(ev.Priority)),
		ev.Object,
	}
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("trace csv: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.c != nil {
		err = errors.Join(err, c.c.Close())
	}
	return err
}

// Log writes events to a zerolog logger at debug level; faults go out at error.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log { return &Log{log: log} }

func (l *Log) Handle(ev sched.StatusEvent) error {
	// ticks are periodic, so skip them for the brevity of output
	if ev.Kind == sched.StatusTick {
		return nil
	}
	e := l.log.Debug()
	if ev.Kind == sched.StatusFault {
		e = l.log.Error()
	}
	e = e.Uint32("tick", uint32(ev.Tick)).Str("event", ev.Kind.String())
	if ev.TaskID != 0 {
		e = e.Str("task", ev.Task).Uint8("prio", uint8(ev.Priority))
	}
	if ev.Object != "" {
		e = e.Str("object", ev.Object)
	}
	e.Msg("sched")
	return nil
}
