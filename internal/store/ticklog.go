// Package store persists raw trade ticks as one CSV file per instrument per day.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"volumebot-go/internal/signal"
)

var (
	// ErrMalformedRow reports a CSV row that cannot be decoded into a tick.
	ErrMalformedRow = errors.New("malformed tick row")
	// ErrOutOfOrder reports a tick whose time precedes the row above it.
	ErrOutOfOrder = errors.New("tick log out of order")
)

// Header is the column order written to every log.
var Header = []string{"instrument", "direction", "price", "quantity", "time"}

// TimeLayout matches the timestamp format of existing history files.
const TimeLayout = "2006-01-02 15:04:05.999999-07:00"

var readLayouts = []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999Z07:00"}

// TickLog reads and writes tick files under a data directory.
type TickLog struct {
	mu  sync.Mutex
	dir string
}

// NewTickLog returns a log rooted at dir.
func NewTickLog(dir string) *TickLog {
	return &TickLog{dir: dir}
}

// Path returns <dir>/<instrument>-YYYYMMDD.csv for the UTC day of day.
func (l *TickLog) Path(instrument string, day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.csv", instrument, day.UTC().Format("20060102")))
}

// Load reads the day's ticks. A missing file yields no ticks and no error.
func (l *TickLog) Load(instrument string, day time.Time) ([]signal.Tick, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ticks, err := LoadFile(l.Path(instrument, day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return ticks, err
}

// Append adds ticks to the day's file, writing the header when the file is new.
func (l *TickLog) Append(instrument string, day time.Time, ticks ...signal.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	path := l.Path(instrument, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if err := WriteTicks(f, ticks, info.Size() == 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Rewrite replaces the day's file with ticks via a temp file and rename.
func (l *TickLog) Rewrite(instrument string, day time.Time, ticks []signal.Tick) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	path := l.Path(instrument, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if err := WriteTicks(tmp, ticks, true); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads every tick of a CSV file.
func LoadFile(path string) ([]signal.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ticks, err := ReadTicks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ticks, nil
}

// ReadTicks decodes a CSV stream with a header row. Columns are matched by name; the legacy
// "figi" column is accepted for the instrument.
func ReadTicks(r io.Reader) ([]signal.Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(head))
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "figi" {
			name = "instrument"
		}
		idx[name] = i
	}
	for _, col := range Header {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedRow, col)
		}
	}

	var ticks []signal.Tick
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return ticks, nil
		}
		if err != nil {
			return nil, err
		}
		tk, err := decodeRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ticks = append(ticks, tk)
	}
}

func decodeRow(rec []string, idx map[string]int) (signal.Tick, error) {
	field := func(name string) string {
		i := idx[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	price, err := decimal.NewFromString(field("price"))
	if err != nil {
		return signal.Tick{}, fmt.Errorf("%w: price: %v", ErrMalformedRow, err)
	}
	qty, err := strconv.ParseInt(field("quantity"), 10, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("%w: quantity: %v", ErrMalformedRow, err)
	}
	ts, err := parseTime(field("time"))
	if err != nil {
		return signal.Tick{}, fmt.Errorf("%w: time: %v", ErrMalformedRow, err)
	}
	return signal.Tick{
		Instrument: field("instrument"),
		Direction:  signal.ParseDirection(field("direction")),
		Price:      price,
		Quantity:   qty,
		Ts:         ts,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range readLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// WriteTicks encodes ticks as CSV rows, optionally preceded by the header.
func WriteTicks(w io.Writer, ticks []signal.Tick, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Header); err != nil {
			return err
		}
	}
	for _, tk := range ticks {
		row := []string{
			tk.Instrument,
			tk.Direction.String(),
			tk.Price.String(),
			strconv.FormatInt(tk.Quantity, 10),
			tk.Ts.UTC().Format(TimeLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Validate checks that tick times never decrease and reports the first offending row (1-based,
// header excluded).
func Validate(ticks []signal.Tick) error {
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Ts.Before(ticks[i-1].Ts) {
			return fmt.Errorf("%w: row %d at %s precedes %s", ErrOutOfOrder, i+1,
				ticks[i].Ts.Format(time.RFC3339Nano), ticks[i-1].Ts.Format(time.RFC3339Nano))
		}
	}
	return nil
}
