// Package quicklook persists named, ordered lists of request items so a query
// can be replayed later.
package quicklook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const fileExt = ".txt"

var (
	// ErrNotFound is returned when no quick-look of that name exists.
	ErrNotFound = errors.New("quick-look not found")
	// ErrInvalidName is returned for names that cannot be used as file names.
	ErrInvalidName = errors.New("invalid quick-look name")
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9 _.-]+$`)
	validate    = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("quicklookname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if strings.Trim(name, ".") == "" {
			return false
		}
		return namePattern.MatchString(name)
	})
	return v
}

// ValidateName reports whether name may be used for a quick-look.
func ValidateName(name string) error {
	if err := validate.Var(name, "required,max=128,quicklookname"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Store is a directory of quick-look files, one per name.
type Store struct {
	mu     sync.RWMutex
	dir    string
	logger zerolog.Logger
}

// NewStore returns a store rooted at dir. The directory is created on first save.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "quicklook").Logger(),
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// List returns the stored names in lexical order.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read quick-look dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads the items of name. Generic INSTANT intervals are rewritten to the
// source default.
func (s *Store) Load(name string) ([]hydro.RequestItem, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(name))
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read quick-look: %w", err)
	}

	items, skipped := Decode(string(data))
	if skipped > 0 {
		s.logger.Warn().Str("name", name).Int("skipped", skipped).Msg("Skipped malformed quick-look entries")
	}
	return items, nil
}

// Save writes items under name, replacing any previous content atomically.
func (s *Store) Save(name string, items []hydro.RequestItem) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create quick-look dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".ql-*")
	if err != nil {
		return fmt.Errorf("failed to create temp quick-look: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Encode(items)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write quick-look: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close quick-look: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("failed to replace quick-look: %w", err)
	}
	s.logger.Info().Str("name", name).Int("items", len(items)).Msg("Quick-look saved")
	return nil
}

// Delete removes name.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete quick-look: %w", err)
	}
	s.logger.Info().Str("name", name).Msg("Quick-look deleted")
	return nil
}

// Encode renders items one per line as dataId|interval|source.
func Encode(items []hydro.RequestItem) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.DataID)
		b.WriteByte('|')
		b.WriteString(string(it.Interval))
		b.WriteByte('|')
		b.WriteString(string(it.Source))
		b.WriteByte('\n')
	}
	return b.String()
}

// Decode parses the line form, or the legacy single-line comma form. Positions
// follow entry order. Entries that do not parse are counted and skipped.
func Decode(text string) ([]hydro.RequestItem, int) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var entries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if len(entries) == 1 && strings.Contains(entries[0], ",") {
		entries = strings.Split(entries[0], ",")
	}

	items := make([]hydro.RequestItem, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		item, err := ParseEntry(e, len(items))
		if err != nil {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

// ParseEntry parses one dataId|interval|source entry.
func ParseEntry(entry string, position int) (hydro.RequestItem, error) {
	parts := strings.Split(strings.TrimSpace(entry), "|")
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
		return hydro.RequestItem{}, fmt.Errorf("quick-look entry %q is not dataId|interval|source", entry)
	}
	src, err := hydro.ParseSource(parts[2])
	if err != nil {
		return hydro.RequestItem{}, err
	}
	iv, err := hydro.ParseInterval(parts[1])
	if err != nil {
		return hydro.RequestItem{}, err
	}
	return hydro.NewRequestItem(parts[0], hydro.NormalizeInterval(iv, src), src, position), nil
}
