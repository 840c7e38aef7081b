// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores and loads timestamped I/O line captures.
//
// Capture files (.cwcap) are a CBOR sequence: one Header item followed by one
// [value, start, end] array per byte, times in nanoseconds from capture start.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/fxamacker/cbor/v2"
)

// File format identification
const (
	FileMagic   = "cardwatch-capture"
	FileVersion = 1
	FileExt     = ".cwcap"
)

// Header describes a capture
type Header struct {
	Magic   string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Source  string    `cbor:"3,keyasint,omitempty"`
	Baud    int       `cbor:"4,keyasint,omitempty"`
	Clock   float64   `cbor:"5,keyasint,omitempty"` // card clock in Hz
	Created time.Time `cbor:"6,keyasint"`
}

// event is the wire form of a ByteEvent
type event struct {
	_     struct{} `cbor:",toarray"`
	Value uint8
	Start int64
	End   int64
}

// ErrNotCapture is returned when a file does not start with a capture header
var ErrNotCapture = errors.New("not a cardwatch capture")

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends byte events to a capture
type Writer struct {
	buf *bufio.Writer
	enc *cbor.Encoder
	n   int
}

// NewWriter writes the header and returns a writer for the events
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Magic = FileMagic
	h.Version = FileVersion
	if h.Created.IsZero() {
		h.Created = time.Now().UTC()
	}

	buf := bufio.NewWriter(w)
	enc := encMode.NewEncoder(buf)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{buf: buf, enc: enc}, nil
}

// Write appends one event
func (w *Writer) Write(ev iso7816.ByteEvent) error {
	if err := w.enc.Encode(event{Value: ev.Value, Start: int64(ev.Start), End: int64(ev.End)}); err != nil {
		return fmt.Errorf("failed to write event %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Count returns the number of events written
func (w *Writer) Count() int {
	return w.n
}

// Flush writes buffered events to the underlying writer
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Reader reads byte events from a capture
type Reader struct {
	Header Header
	dec    *cbor.Decoder
	n      int
}

// NewReader reads and checks the capture header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(bufio.NewReader(r))

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != FileMagic {
		return nil, ErrNotCapture
	}
	if h.Version > FileVersion {
		return nil, fmt.Errorf("unsupported capture version %d", h.Version)
	}
	return &Reader{Header: h, dec: dec}, nil
}

// Read returns the next event, or io.EOF after the last one
func (r *Reader) Read() (iso7816.ByteEvent, error) {
	var e event
	if err := r.dec.Decode(&e); err != nil {
		if err == io.EOF {
			return iso7816.ByteEvent{}, io.EOF
		}
		return iso7816.ByteEvent{}, fmt.Errorf("failed to read event %d: %w", r.n, err)
	}
	r.n++
	return iso7816.ByteEvent{Value: e.Value, Start: time.Duration(e.Start), End: time.Duration(e.End)}, nil
}

// ReadAll reads every remaining event
func (r *Reader) ReadAll() ([]iso7816.ByteEvent, error) {
	var events []iso7816.ByteEvent
	for {
		ev, err := r.Read()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Load reads a capture file. Files ending in .csv are read as Saleae Logic async
// serial exports, using baud for the character time when the export has no durations.
func Load(path string, baud int) (Header, []iso7816.ByteEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		events, err := ReadSaleaeCSV(f, baud)
		if err != nil {
			return Header{}, nil, fmt.Errorf("%s: %w", path, err)
		}
		return Header{Magic: FileMagic, Version: FileVersion, Source: "saleae:" + filepath.Base(path), Baud: baud}, events, nil
	}

	r, err := NewReader(f)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	events, err := r.ReadAll()
	if err != nil {
		return r.Header, events, fmt.Errorf("%s: %w", path, err)
	}
	return r.Header, events, nil
}
