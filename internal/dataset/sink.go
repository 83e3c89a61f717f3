package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/sweepstation/internal/fsutil"
	"github.com/banshee-data/sweepstation/internal/security"
)

// Sink is the incremental persistence collaborator the engine drives. The
// engine calls Open once before the first point, AppendRow once per visited
// coordinate in traversal order, and Seal exactly once when the run reaches a
// terminal state. File layout is owned by the implementation.
type Sink interface {
	Open(location string, schema Schema) error
	AppendRow(c Coord, values map[string]float64) error
	Seal(status RunStatus, reason string) error
}

// TextSink writes a human-readable tab-separated data file plus a JSON
// schema snapshot. Layout:
//
//	<location>/
//	    <name>.dat       one row per visited coordinate, '#' header lines
//	    snapshot.json    schema, shape and device metadata
//
// Rows of consecutive outer indices are separated by a blank line so the file
// loads directly into gnuplot-style tools as 2D blocks.
type TextSink struct {
	fs        fsutil.FileSystem
	f         io.WriteCloser
	w         *bufio.Writer
	schema    Schema
	lastOuter int
	rows      int
}

// NewTextSink returns an unopened text sink backed by the real filesystem.
func NewTextSink() *TextSink { return NewTextSinkFS(fsutil.OSFileSystem{}) }

// NewTextSinkFS returns an unopened text sink writing through fsys.
func NewTextSinkFS(fsys fsutil.FileSystem) *TextSink {
	return &TextSink{fs: fsys, lastOuter: -1}
}

func (s *TextSink) Open(location string, schema Schema) error {
	if s.f != nil {
		return fmt.Errorf("text sink already open")
	}
	if err := schema.Validate(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(location, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset dir: %w", err)
	}

	snap, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot: %w", err)
	}
	if err := s.fs.WriteFile(filepath.Join(location, "snapshot.json"), snap, 0o644); err != nil {
		return fmt.Errorf("failed to write schema snapshot: %w", err)
	}

	base := security.SanitizeFilename(schema.Name)
	f, err := s.fs.Create(filepath.Join(location, base+".dat"))
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.schema = schema
	s.writeHeader()
	return s.w.Flush()
}

func (s *TextSink) writeHeader() {
	fmt.Fprintf(s.w, "# %s\n", s.schema.Name)
	if s.schema.DeviceInfo != "" {
		fmt.Fprintf(s.w, "# device: %s\n", s.schema.DeviceInfo)
	}
	if s.schema.InstrumentInfo != "" {
		fmt.Fprintf(s.w, "# instrument: %s\n", s.schema.InstrumentInfo)
	}
	if s.schema.Is2D {
		fmt.Fprintf(s.w, "# shape: %d,%d\n", s.schema.OuterNum, s.schema.InnerNum)
	} else {
		fmt.Fprintf(s.w, "# shape: %d\n", s.schema.InnerNum)
	}

	names := make([]string, len(s.schema.Channels))
	labels := make([]string, len(s.schema.Channels))
	for i, ch := range s.schema.Channels {
		names[i] = ch.Name
		label := ch.Label
		if label == "" {
			label = ch.Name
		}
		if ch.Unit != "" {
			label = fmt.Sprintf("%s (%s)", label, ch.Unit)
		}
		labels[i] = label
	}
	fmt.Fprintf(s.w, "# %s\n", strings.Join(names, "\t"))
	fmt.Fprintf(s.w, "# %s\n", strings.Join(labels, "\t"))
}

// AppendRow writes one visited coordinate. Values for channels missing from
// the map are written as nan so column positions stay stable.
func (s *TextSink) AppendRow(c Coord, values map[string]float64) error {
	if s.f == nil {
		return fmt.Errorf("text sink not open")
	}
	if s.schema.Is2D && s.lastOuter >= 0 && c.Outer != s.lastOuter {
		fmt.Fprintln(s.w)
	}
	s.lastOuter = c.Outer

	fields := make([]string, len(s.schema.Channels))
	for i, ch := range s.schema.Channels {
		if v, ok := values[ch.Name]; ok {
			fields[i] = fmt.Sprintf("%.12g", v)
		} else {
			fields[i] = "nan"
		}
	}
	if _, err := fmt.Fprintln(s.w, strings.Join(fields, "\t")); err != nil {
		return fmt.Errorf("failed to append row %v: %w", c, err)
	}
	s.rows++
	// flush per row: the file is the crash-safe record of the run
	return s.w.Flush()
}

// Seal writes the terminal status trailer and closes the file.
func (s *TextSink) Seal(status RunStatus, reason string) error {
	if s.f == nil {
		return fmt.Errorf("text sink not open")
	}
	if reason != "" {
		fmt.Fprintf(s.w, "# status: %s (%s), rows: %d\n", status, reason, s.rows)
	} else {
		fmt.Fprintf(s.w, "# status: %s, rows: %d\n", status, s.rows)
	}
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	err := s.f.Close()
	s.f = nil
	return err
}
