// Package catalog is the data dictionary: per-series labels and QAQC bounds
// keyed by lookup id, backed by a UTF-8 (BOM) comma-separated file.
package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const bom = "\ufeff"

// Recognized column names.
const (
	colID           = "id"
	colSite         = "site"
	colLabel        = "label"
	colExpectedMin  = "expectedMin"
	colExpectedMax  = "expectedMax"
	colCutoffMin    = "cutoffMin"
	colCutoffMax    = "cutoffMax"
	colRateOfChange = "rateOfChange"
)

// DefaultHeader is written when a catalog is created from scratch.
var DefaultHeader = []string{
	colID, colSite, colLabel,
	colExpectedMin, colExpectedMax, colCutoffMin, colCutoffMax, colRateOfChange,
}

// ErrMissingID is wrapped by ParseError when the header has no id column.
var ErrMissingID = errors.New("header has no id column")

// ParseError reports a malformed catalog file.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("catalog: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type record struct {
	entry hydro.CatalogEntry
	cells []string
}

// Catalog is a keyed, order-preserving store of entries. It is safe for
// concurrent use; writes serialize on a single lock.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	header  []string
	columns map[string]int
	records []*record
	index   map[string]int
	logger  zerolog.Logger
}

// New returns an empty catalog that persists to path.
func New(path string, logger zerolog.Logger) *Catalog {
	c := &Catalog{
		path:   path,
		index:  make(map[string]int),
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	c.setHeader(append([]string(nil), DefaultHeader...))
	return c
}

// Load reads the catalog at path. A missing file yields an empty catalog.
func Load(path string, logger zerolog.Logger) (*Catalog, error) {
	c := New(path, logger)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Info().Str("path", path).Msg("Catalog file not found; starting empty")
			return c, nil
		}
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	if err := c.read(f); err != nil {
		return nil, err
	}
	c.logger.Info().Str("path", path).Int("entries", len(c.index)).Msg("Catalog loaded")
	return c, nil
}

func (c *Catalog) read(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte(bom))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return &ParseError{Line: 1, Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	c.setHeader(header)
	if _, ok := c.columns[strings.ToLower(colID)]; !ok {
		return &ParseError{Line: 1, Err: ErrMissingID}
	}

	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return &ParseError{Line: line, Err: err}
		}
		line, _ := cr.FieldPos(0)
		if len(cells) == 1 && strings.TrimSpace(cells[0]) == "" {
			continue
		}
		for len(cells) < len(c.header) {
			cells = append(cells, "")
		}
		entry, err := c.decode(cells)
		if err != nil {
			return &ParseError{Line: line, Err: err}
		}
		if entry.ID == "" {
			return &ParseError{Line: line, Err: errors.New("empty id")}
		}
		if _, dup := c.index[entry.ID]; dup {
			c.logger.Warn().Str("id", entry.ID).Int("line", line).Msg("Duplicate catalog id; later row wins")
		}
		c.index[entry.ID] = len(c.records)
		c.records = append(c.records, &record{entry: entry, cells: cells})
	}
	return nil
}

func (c *Catalog) setHeader(header []string) {
	c.header = header
	c.columns = make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(h)
		if _, ok := c.columns[key]; !ok {
			c.columns[key] = i
		}
	}
}

func (c *Catalog) cell(cells []string, name string) (string, bool) {
	i, ok := c.columns[strings.ToLower(name)]
	if !ok || i >= len(cells) {
		return "", false
	}
	return strings.TrimSpace(cells[i]), true
}

func (c *Catalog) decode(cells []string) (hydro.CatalogEntry, error) {
	var e hydro.CatalogEntry
	e.ID, _ = c.cell(cells, colID)
	e.Site, _ = c.cell(cells, colSite)
	e.Label, _ = c.cell(cells, colLabel)

	bounds := []struct {
		name string
		dst  **float64
	}{
		{colExpectedMin, &e.Bounds.ExpectedMin},
		{colExpectedMax, &e.Bounds.ExpectedMax},
		{colCutoffMin, &e.Bounds.CutoffMin},
		{colCutoffMax, &e.Bounds.CutoffMax},
		{colRateOfChange, &e.Bounds.RateOfChange},
	}
	for _, b := range bounds {
		raw, _ := c.cell(cells, b.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return e, fmt.Errorf("%s: %q is not numeric", b.name, raw)
		}
		*b.dst = &v
	}
	return e, nil
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (hydro.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return hydro.CatalogEntry{}, false
	}
	return c.records[i].entry, true
}

// Entries returns all entries in file order.
func (c *Catalog) Entries() []hydro.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]hydro.CatalogEntry, len(c.records))
	for i, r := range c.records {
		out[i] = r.entry
	}
	return out
}

// Len returns the number of distinct ids.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// UpsertAll replaces existing entries in place and appends new ones in the
// order given. Cells of unknown columns are left untouched.
func (c *Catalog) UpsertAll(entries []hydro.CatalogEntry) error {
	for _, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return errors.New("catalog: entry with empty id")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		c.ensureColumns(e)
		i, ok := c.index[e.ID]
		if !ok {
			i = len(c.records)
			c.index[e.ID] = i
			c.records = append(c.records, &record{cells: make([]string, len(c.header))})
		}
		r := c.records[i]
		r.entry = e
		c.encode(r)
	}
	return nil
}

// ensureColumns adds recognized columns the file lacks when e needs them.
func (c *Catalog) ensureColumns(e hydro.CatalogEntry) {
	need := map[string]bool{
		colSite:         e.Site != "",
		colLabel:        e.Label != "",
		colExpectedMin:  e.Bounds.ExpectedMin != nil,
		colExpectedMax:  e.Bounds.ExpectedMax != nil,
		colCutoffMin:    e.Bounds.CutoffMin != nil,
		colCutoffMax:    e.Bounds.CutoffMax != nil,
		colRateOfChange: e.Bounds.RateOfChange != nil,
	}
	for _, name := range DefaultHeader[1:] {
		if !need[name] {
			continue
		}
		if _, ok := c.columns[strings.ToLower(name)]; ok {
			continue
		}
		c.setHeader(append(c.header, name))
		for _, r := range c.records {
			r.cells = append(r.cells, "")
		}
	}
}

func (c *Catalog) encode(r *record) {
	for len(r.cells) < len(c.header) {
		r.cells = append(r.cells, "")
	}
	set := func(name, v string) {
		if i, ok := c.columns[strings.ToLower(name)]; ok {
			r.cells[i] = v
		}
	}
	set(colID, r.entry.ID)
	set(colSite, r.entry.Site)
	set(colLabel, r.entry.Label)
	set(colExpectedMin, formatBound(r.entry.Bounds.ExpectedMin))
	set(colExpectedMax, formatBound(r.entry.Bounds.ExpectedMax))
	set(colCutoffMin, formatBound(r.entry.Bounds.CutoffMin))
	set(colCutoffMax, formatBound(r.entry.Bounds.CutoffMax))
	set(colRateOfChange, formatBound(r.entry.Bounds.RateOfChange))
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Persist rewrites the backing file atomically.
func (c *Catalog) Persist() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	c.logger.Info().Str("path", c.path).Int("entries", len(c.index)).Msg("Catalog persisted")
	return nil
}

func (c *Catalog) write(w io.Writer) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(c.header); err != nil {
		return err
	}
	for _, r := range c.records {
		if err := cw.Write(r.cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
