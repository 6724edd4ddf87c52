package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const (
	usgsNoData      = "-999999"
	usgsQueryLayout = "2006-01-02T15:04"
)

var usgsTimeLayouts = []string{
	"2006-01-02T15:04:05.000-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// USGSProvider reads the NWIS instantaneous and daily value services.
type USGSProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewUSGSProvider(client *http.Client, baseURL string, logger zerolog.Logger) *USGSProvider {
	logger = logger.With().Str("component", "usgs-nwis").Logger()
	return &USGSProvider{
		name:    "usgs-nwis",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker("usgs-nwis", logger),
		logger:  logger,
	}
}

func (p *USGSProvider) Name() string {
	return p.name
}

// usgsID is the parsed site-method-parameter triple.
type usgsID struct {
	raw    string
	site   string
	method string
	param  string
}

func parseUSGSID(id string) (usgsID, error) {
	parts := strings.Split(strings.TrimSpace(id), "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return usgsID{}, fmt.Errorf("usgs: id %q is not site-method-parameter", id)
	}
	return usgsID{raw: id, site: parts[0], method: parts[1], param: parts[2]}, nil
}

func usgsService(iv hydro.Interval) (string, error) {
	switch {
	case iv == hydro.IntervalHour || iv.IsInstant():
		return "iv", nil
	case iv == hydro.IntervalDay:
		return "dv", nil
	}
	return "", fmt.Errorf("usgs: unsupported interval %q", iv)
}

type usgsPayload struct {
	Value struct {
		TimeSeries []struct {
			SourceInfo struct {
				SiteCode []struct {
					Value string `json:"value"`
				} `json:"siteCode"`
			} `json:"sourceInfo"`
			Variable struct {
				VariableCode []struct {
					Value string `json:"value"`
				} `json:"variableCode"`
			} `json:"variable"`
			Values []struct {
				Value []struct {
					Value    string `json:"value"`
					DateTime string `json:"dateTime"`
				} `json:"value"`
				Method []struct {
					MethodID flexString `json:"methodID"`
				} `json:"method"`
			} `json:"values"`
		} `json:"timeSeries"`
	} `json:"value"`
}

func (p *USGSProvider) Fetch(ctx context.Context, req hydro.FetchRequest) (map[string][]hydro.Row, error) {
	service, err := usgsService(req.Interval)
	if err != nil {
		return nil, err
	}

	var ids []usgsID
	sites := map[string]struct{}{}
	params := map[string]struct{}{}
	for _, raw := range req.SeriesIDs {
		id, err := parseUSGSID(raw)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Skipping series id")
			continue
		}
		ids = append(ids, id)
		sites[id.site] = struct{}{}
		params[id.param] = struct{}{}
	}
	if len(ids) == 0 {
		return map[string][]hydro.Row{}, nil
	}

	values := url.Values{}
	values.Set("format", "json")
	values.Set("sites", strings.Join(keys(sites), ","))
	values.Set("parameterCd", strings.Join(keys(params), ","))
	values.Set("startDT", req.Start.Format(usgsQueryLayout))
	values.Set("endDT", req.End.Format(usgsQueryLayout))

	var payload usgsPayload
	u := fmt.Sprintf("%s/%s/?%s", p.baseURL, service, values.Encode())
	if err := getJSON(ctx, p.httpCfg, p.circuit, u, nil, &payload); err != nil {
		return nil, err
	}

	out := make(map[string][]hydro.Row, len(ids))
	for _, ts := range payload.Value.TimeSeries {
		if len(ts.SourceInfo.SiteCode) == 0 || len(ts.Variable.VariableCode) == 0 {
			continue
		}
		site := ts.SourceInfo.SiteCode[0].Value
		param := ts.Variable.VariableCode[0].Value
		for _, id := range ids {
			if id.site != site || id.param != param {
				continue
			}
			var rows []hydro.Row
			for _, block := range ts.Values {
				if len(block.Method) == 0 || string(block.Method[0].MethodID) != id.method {
					continue
				}
				for _, v := range block.Value {
					t, err := parseUSGSTime(v.DateTime)
					if err != nil {
						continue
					}
					val := strings.TrimSpace(v.Value)
					if val == usgsNoData {
						val = ""
					}
					rows = append(rows, hydro.Row{Timestamp: t, Value: val})
				}
			}
			if len(rows) > 0 {
				out[id.raw] = hydro.SortRows(append(out[id.raw], rows...))
			}
		}
	}

	p.logger.Debug().
		Str("service", service).
		Int("requested", len(ids)).
		Int("returned", len(out)).
		Msg("NWIS fetch complete")
	return out, nil
}

// parseUSGSTime keeps the wall clock the service reported, dropping the offset.
func parseUSGSTime(s string) (time.Time, error) {
	for _, layout := range usgsTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return hydro.WallClock(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("usgs: malformed timestamp %q", s)
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
