package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const nwisSample = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {"siteCode": [{"value": "09380000"}]},
        "variable": {"variableCode": [{"value": "00060"}]},
        "values": [
          {
            "value": [
              {"value": "13900", "dateTime": "2025-03-01T00:15:00.000-07:00"},
              {"value": "-999999", "dateTime": "2025-03-01T00:30:00.000-07:00"},
              {"value": "13850", "dateTime": "2025-03-01T00:00:00.000-07:00"}
            ],
            "method": [{"methodID": 69928}]
          },
          {
            "value": [{"value": "1", "dateTime": "2025-03-01T00:00:00.000-07:00"}],
            "method": [{"methodID": 11111}]
          }
        ]
      }
    ]
  }
}`

func TestUSGSFetch(t *testing.T) {
	var path, sites, params, startDT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		sites = r.URL.Query().Get("sites")
		params = r.URL.Query().Get("parameterCd")
		startDT = r.URL.Query().Get("startDT")
		fmt.Fprint(w, nwisSample)
	}))
	defer srv.Close()

	p := NewUSGSProvider(srv.Client(), srv.URL+"/nwis/", zerolog.Nop())
	out, err := p.Fetch(context.Background(), hydro.FetchRequest{
		SeriesIDs: []string{"09380000-69928-00060", "09380000-22222-00060", "bad-id"},
		Start:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC),
		Interval:  hydro.IntervalInstant15,
	})
	require.NoError(t, err)

	assert.Equal(t, "/nwis/iv/", path)
	assert.Equal(t, "09380000", sites)
	assert.Equal(t, "00060", params)
	assert.Equal(t, "2025-03-01T00:00", startDT)

	require.Len(t, out, 1)
	rows := out["09380000-69928-00060"]
	require.Len(t, rows, 3)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), rows[0].Timestamp)
	assert.Equal(t, "13850", rows[0].Value)
	assert.Equal(t, "13900", rows[1].Value)
	assert.Empty(t, rows[2].Value)
}

func TestUSGSDailyService(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, `{"value": {"timeSeries": []}}`)
	}))
	defer srv.Close()

	p := NewUSGSProvider(srv.Client(), srv.URL, zerolog.Nop())
	_, err := p.Fetch(context.Background(), hydro.FetchRequest{
		SeriesIDs: []string{"09380000-00003-00060"},
		Start:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		Interval:  hydro.IntervalDay,
	})
	require.NoError(t, err)
	assert.Equal(t, "/dv/", path)

	_, err = p.Fetch(context.Background(), hydro.FetchRequest{SeriesIDs: []string{"09380000-00003-00060"}, Interval: hydro.IntervalMonth})
	assert.Error(t, err)
}

func TestUSGSNoUsableIDs(t *testing.T) {
	p := NewUSGSProvider(http.DefaultClient, "http://example.invalid", zerolog.Nop())
	out, err := p.Fetch(context.Background(), hydro.FetchRequest{SeriesIDs: []string{"09380000"}, Interval: hydro.IntervalDay})
	require.NoError(t, err)
	assert.Empty(t, out)
}
