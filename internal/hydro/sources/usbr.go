package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const (
	usbrBatchSize   = 50
	usbrTimeLayout  = "1/2/2006 15:04:05"
	usbrQueryLayout = "2006-01-02T15:04"
)

// USBRProvider reads the Reclamation HDB CGI JSON service.
type USBRProvider struct {
	name         string
	baseURL      string
	periodOffset bool
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
	logger       zerolog.Logger
}

// NewUSBRProvider creates the USBR-HTTP adapter. periodOffset enables the
// end-of-period convention for hourly data.
func NewUSBRProvider(client *http.Client, baseURL string, periodOffset bool, logger zerolog.Logger) *USBRProvider {
	logger = logger.With().Str("component", "usbr-http").Logger()
	return &USBRProvider{
		name:         "usbr-http",
		baseURL:      baseURL,
		periodOffset: periodOffset,
		httpCfg:      HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit:      newBreaker("usbr-http", logger),
		logger:       logger,
	}
}

func (p *USBRProvider) Name() string {
	return p.name
}

// usbrIntervalCode maps an interval to the HDB time-step code.
func usbrIntervalCode(iv hydro.Interval) (string, error) {
	switch {
	case iv == hydro.IntervalHour:
		return "HR", nil
	case iv.IsInstant():
		return "IN", nil
	case iv == hydro.IntervalDay:
		return "DY", nil
	case iv == hydro.IntervalMonth:
		return "MN", nil
	case iv == hydro.IntervalYear:
		return "YR", nil
	case iv == hydro.IntervalWaterYear:
		return "WY", nil
	}
	return "", fmt.Errorf("usbr: unsupported interval %q", iv)
}

type usbrPayload struct {
	Series []struct {
		SDI  string `json:"SDI"`
		Data []struct {
			T string     `json:"t"`
			V flexString `json:"v"`
		} `json:"Data"`
	} `json:"Series"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (p *USBRProvider) Fetch(ctx context.Context, req hydro.FetchRequest) (map[string][]hydro.Row, error) {
	code, err := usbrIntervalCode(req.Interval)
	if err != nil {
		return nil, err
	}

	shift := p.periodOffset && req.Interval == hydro.IntervalHour
	start := req.Start
	if shift {
		start = start.Add(-time.Hour)
	}
	table := req.SubID
	if table == "" {
		table = "R"
	}

	out := make(map[string][]hydro.Row, len(req.SeriesIDs))
	batches := chunk(req.SeriesIDs, usbrBatchSize)
	var firstErr error
	failed := 0
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		values := url.Values{}
		values.Set("svr", req.Variant)
		values.Set("sdi", strings.Join(batch, ","))
		values.Set("tstp", code)
		values.Set("t1", start.Format(usbrQueryLayout))
		values.Set("t2", req.End.Format(usbrQueryLayout))
		values.Set("table", table)
		values.Set("mrid", "0")
		values.Set("format", "json")

		var payload usbrPayload
		if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL+"?"+values.Encode(), nil, &payload); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			p.logger.Warn().
				Err(err).
				Str("svr", req.Variant).
				Int("batch_size", len(batch)).
				Msg("USBR batch failed; its series stay missing")
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, s := range payload.Series {
			rows := make([]hydro.Row, 0, len(s.Data))
			for _, d := range s.Data {
				ts, err := parseUSBRTime(d.T)
				if err != nil {
					p.logger.Debug().Str("sdi", s.SDI).Str("t", d.T).Msg("Skipping row with bad timestamp")
					continue
				}
				if shift {
					ts = ts.Add(time.Hour)
				}
				rows = append(rows, hydro.Row{Timestamp: ts, Value: string(d.V)})
			}
			out[strings.TrimSpace(s.SDI)] = hydro.SortRows(rows)
		}
	}

	p.logger.Debug().
		Str("svr", req.Variant).
		Str("tstp", code).
		Int("requested", len(req.SeriesIDs)).
		Int("returned", len(out)).
		Msg("USBR fetch complete")
	if firstErr != nil {
		return out, fmt.Errorf("usbr: %d of %d batches failed: %w", failed, len(batches), firstErr)
	}
	return out, nil
}

// parseUSBRTime parses the HDB "M/D/YYYY h:mm:ss AM" clock. The hour is read
// as written and moved onto the 24-hour clock: 12 AM is hour 0 and PM hours
// before 12 gain twelve hours.
func parseUSBRTime(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return time.Time{}, fmt.Errorf("usbr: malformed timestamp %q", s)
	}
	ts, err := time.ParseInLocation(usbrTimeLayout, fields[0]+" "+fields[1], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("usbr: malformed timestamp %q: %w", s, err)
	}
	if len(fields) > 2 {
		switch strings.ToUpper(fields[2]) {
		case "AM":
			if ts.Hour() == 12 {
				ts = ts.Add(-12 * time.Hour)
			}
		case "PM":
			if ts.Hour() < 12 {
				ts = ts.Add(12 * time.Hour)
			}
		}
	}
	return hydro.WallClock(ts), nil
}
