package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/i474232898/hydro-data-aggregation/internal/credentials"
	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

// PlaceholderStyle selects how bind markers are written for a driver.
type PlaceholderStyle string

const (
	PlaceholderQuestion PlaceholderStyle = "question" // ?
	PlaceholderDollar   PlaceholderStyle = "dollar"   // $1
	PlaceholderColon    PlaceholderStyle = "colon"    // :1
)

// DefaultPlaceholder returns the marker style of a registered driver.
func DefaultPlaceholder(driver string) PlaceholderStyle {
	switch driver {
	case "pgx", "postgres":
		return PlaceholderDollar
	case "oracle", "godror":
		return PlaceholderColon
	}
	return PlaceholderQuestion
}

func (s PlaceholderStyle) marker(n int) string {
	switch s {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(n)
	case PlaceholderColon:
		return ":" + strconv.Itoa(n)
	}
	return "?"
}

// SQLConfig configures the warehouse connection.
type SQLConfig struct {
	Driver       string
	Placeholder  PlaceholderStyle
	MaxOpenConns int
	// PeriodOffset applies the end-of-period convention to hourly tables,
	// matching the HTTP adapter.
	PeriodOffset bool
}

// SQLProvider reads the HDB warehouse tables directly.
type SQLProvider struct {
	name         string
	db           *sql.DB
	placeholder  PlaceholderStyle
	periodOffset bool
	logger       zerolog.Logger
}

// OpenSQLProvider connects using the DSN held in the keystore. The DSN is
// wiped as soon as the connection pool has been created.
func OpenSQLProvider(ctx context.Context, cfg SQLConfig, keystore credentials.Keystore, logger zerolog.Logger) (*SQLProvider, error) {
	secret, err := keystore.Secret(credentials.WarehouseDSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, secret.String())
	secret.Destroy()
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	style := cfg.Placeholder
	if style == "" {
		style = DefaultPlaceholder(cfg.Driver)
	}
	p := NewSQLProvider(db, style, logger)
	p.periodOffset = cfg.PeriodOffset
	p.logger.Info().
		Str("driver", cfg.Driver).
		Str("placeholder", string(style)).
		Bool("period_offset", cfg.PeriodOffset).
		Msg("Warehouse connected")
	return p, nil
}

// NewSQLProvider wraps an open database handle.
func NewSQLProvider(db *sql.DB, style PlaceholderStyle, logger zerolog.Logger) *SQLProvider {
	return &SQLProvider{
		name:        "usbr-sql",
		db:          db,
		placeholder: style,
		logger:      logger.With().Str("component", "usbr-sql").Logger(),
	}
}

func (p *SQLProvider) Name() string {
	return p.name
}

// Close releases the connection pool.
func (p *SQLProvider) Close() error {
	return p.db.Close()
}

var tablePrefix = regexp.MustCompile(`^[A-Z]$`)

// TableFor derives the warehouse table from the interval code and modifier.
func TableFor(iv hydro.Interval, subID string) (string, error) {
	prefix := strings.ToUpper(strings.TrimSpace(subID))
	if prefix == "" {
		prefix = "R"
	}
	if !tablePrefix.MatchString(prefix) {
		return "", fmt.Errorf("usbr-sql: invalid table modifier %q", subID)
	}
	var suffix string
	switch {
	case iv == hydro.IntervalHour:
		suffix = "HOUR"
	case iv.IsInstant():
		suffix = "INSTANT"
	case iv == hydro.IntervalDay:
		suffix = "DAY"
	case iv == hydro.IntervalMonth:
		suffix = "MONTH"
	case iv == hydro.IntervalYear:
		suffix = "YEAR"
	case iv == hydro.IntervalWaterYear:
		suffix = "WY"
	default:
		return "", fmt.Errorf("usbr-sql: unsupported interval %q", iv)
	}
	return prefix + "_" + suffix, nil
}

func (p *SQLProvider) Fetch(ctx context.Context, req hydro.FetchRequest) (map[string][]hydro.Row, error) {
	table, err := TableFor(req.Interval, req.SubID)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT start_date_time, value FROM %s WHERE site_datatype_id = %s AND start_date_time >= %s AND start_date_time < %s ORDER BY start_date_time",
		table, p.placeholder.marker(1), p.placeholder.marker(2), p.placeholder.marker(3),
	)

	shift := p.periodOffset && req.Interval == hydro.IntervalHour
	start := req.Start
	if shift {
		start = start.Add(-time.Hour)
	}

	out := make(map[string][]hydro.Row, len(req.SeriesIDs))
	for _, id := range req.SeriesIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var sdi any = id
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			sdi = n
		}
		rows, err := p.ExecuteCustomQuery(ctx, query, sdi, start, req.End)
		if err != nil {
			p.logger.Warn().Err(err).Str("sdi", id).Str("table", table).Msg("Warehouse query failed")
			continue
		}
		if shift {
			for i := range rows {
				rows[i].Timestamp = rows[i].Timestamp.Add(time.Hour)
			}
		}
		if len(rows) > 0 {
			out[id] = hydro.SortRows(rows)
		}
	}
	return out, nil
}

// ExecuteCustomQuery runs a validated two-column (timestamp, value) query.
func (p *SQLProvider) ExecuteCustomQuery(ctx context.Context, query string, args ...any) ([]hydro.Row, error) {
	if err := ValidateQuery(query, args); err != nil {
		return nil, err
	}

	rs, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []hydro.Row
	for rs.Next() {
		var (
			ts  any
			val sql.NullFloat64
		)
		if err := rs.Scan(&ts, &val); err != nil {
			return nil, err
		}
		t, err := scanTime(ts)
		if err != nil {
			continue
		}
		row := hydro.Row{Timestamp: t}
		if val.Valid {
			row.Value = strconv.FormatFloat(val.Float64, 'f', -1, 64)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

var sqlTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return hydro.WallClock(t), nil
	case string:
		return parseSQLTime(t)
	case []byte:
		return parseSQLTime(string(t))
	}
	return time.Time{}, fmt.Errorf("usbr-sql: unsupported timestamp type %T", v)
}

func parseSQLTime(s string) (time.Time, error) {
	for _, layout := range sqlTimeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return hydro.WallClock(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("usbr-sql: malformed timestamp %q", s)
}
