// Package framelog stores recorded frames as zstd-compressed JSON lines,
// one file per run.
package framelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/contagion/internal/engine"
)

const maxLine = 64 << 20

// Path returns the frame-log file for a run inside dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID+".jsonl.zst")
}

// Writer appends frames to <dir>/<run>.jsonl.zst. It is an engine.Observer.
// The file is opened on the first frame; a resumed run appends a new zstd
// frame to the same file.
type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// NewWriter creates a writer for runID's log under dir.
func NewWriter(dir, runID string) *Writer {
	return &Writer{path: Path(dir, runID)}
}

// Path is the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Observe appends one frame as a JSON line.
func (w *Writer) Observe(f engine.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return fmt.Errorf("open frame log: %w", err)
		}
	}

	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame %d: %w", f.Tick, err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	return err
}

// Reader yields the frames of a log in write order.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	sc  *bufio.Scanner
}

// Open opens a frame log for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{f: f, dec: dec, sc: sc}, nil
}

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (engine.Frame, error) {
	var fr engine.Frame
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &fr); err != nil {
			return fr, fmt.Errorf("%s: unmarshal: %w", filepath.Base(r.f.Name()), err)
		}
		return fr, nil
	}
	if err := r.sc.Err(); err != nil {
		return fr, err
	}
	return fr, io.EOF
}

// Close releases the decoder and the file.
func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
