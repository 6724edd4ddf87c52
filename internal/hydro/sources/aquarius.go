package sources

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/hydro-data-aggregation/internal/credentials"
	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

const (
	defaultQueryLimit = 50000
	defaultMaxThreads = 10
	defaultTokenTTL   = 20 * time.Minute
	aquariusAuthHdr   = "X-Authentication-Token"
)

// AquariusConfig configures the authenticated Aquarius Publish adapter.
type AquariusConfig struct {
	BaseURL    string        // e.g. https://host/AQUARIUS/Publish/v2
	Username   string        // password is read from the keystore per login
	CAFile     string        // bundled certificate used when system roots fail
	UTCOffset  string        // "UTC-07:00", "-07:00" or an IANA zone name
	QueryLimit int           // max points per sub-request
	MaxThreads int           // max concurrent sub-requests
	TokenTTL   time.Duration // session reuse window
	Timeout    time.Duration // per HTTP call
}

// tlsMode is one way of verifying the server certificate.
type tlsMode struct {
	name     string
	insecure bool
	client   *http.Client
}

// AquariusProvider reads corrected time-series data from Aquarius.
type AquariusProvider struct {
	name     string
	cfg      AquariusConfig
	keystore credentials.Keystore
	loc      *time.Location
	modes    []tlsMode
	circuit  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	client  *http.Client
	logins  singleflight.Group
}

// NewAquariusProvider creates the adapter. An unreadable CA bundle only drops
// the bundled verification mode.
func NewAquariusProvider(cfg AquariusConfig, keystore credentials.Keystore, logger zerolog.Logger) (*AquariusProvider, error) {
	logger = logger.With().Str("component", "aquarius").Logger()
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = defaultQueryLimit
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = defaultMaxThreads
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	loc, err := ParseUTCOffset(cfg.UTCOffset)
	if err != nil {
		return nil, err
	}

	p := &AquariusProvider{
		name:     "aquarius",
		cfg:      cfg,
		keystore: keystore,
		loc:      loc,
		circuit:  newBreaker("aquarius", logger),
		logger:   logger,
		now:      time.Now,
	}
	p.modes = append(p.modes, tlsMode{name: "system", client: p.newClient(&tls.Config{})})
	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			logger.Warn().Err(err).Str("ca_file", cfg.CAFile).Msg("Bundled certificate unavailable")
		} else {
			p.modes = append(p.modes, tlsMode{name: "bundled", client: p.newClient(&tls.Config{RootCAs: pool})})
		}
	}
	p.modes = append(p.modes, tlsMode{
		name:     "insecure",
		insecure: true,
		client:   p.newClient(&tls.Config{InsecureSkipVerify: true}), //nolint:gosec // last resort, logged
	})
	return p, nil
}

func (p *AquariusProvider) newClient(tlsCfg *tls.Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &http.Client{Timeout: p.cfg.Timeout, Transport: tr}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// ParseUTCOffset turns a label such as "UTC-07:00", "-7" or "America/Phoenix"
// into a location. An empty label means UTC.
func ParseUTCOffset(label string) (*time.Location, error) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "UTC") || strings.EqualFold(label, "GMT") {
		return time.UTC, nil
	}
	if m := offsetPattern.FindStringSubmatch(strings.ToUpper(label)); m != nil {
		h, _ := strconv.Atoi(m[2])
		mins := 0
		if m[3] != "" {
			mins, _ = strconv.Atoi(m[3])
		}
		secs := h*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(label, secs), nil
	}
	loc, err := time.LoadLocation(label)
	if err != nil {
		return nil, fmt.Errorf("aquarius: unknown utc offset %q: %w", label, err)
	}
	return loc, nil
}

func (p *AquariusProvider) Name() string {
	return p.name
}

// session returns a valid token and the client of the TLS mode that obtained
// it. Concurrent callers share one login.
func (p *AquariusProvider) session(ctx context.Context) (string, *http.Client, error) {
	p.mu.Lock()
	if p.token != "" && p.now().Before(p.expires) {
		token, client := p.token, p.client
		p.mu.Unlock()
		return token, client, nil
	}
	p.mu.Unlock()

	_, err, _ := p.logins.Do("session", func() (interface{}, error) {
		return nil, p.login(ctx)
	})
	if err != nil {
		return "", nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, p.client, nil
}

func (p *AquariusProvider) invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

// login tries each TLS mode in order and keeps the first that authenticates.
// Only a certificate verification failure moves on to the next mode; any other
// error ends the attempt before the password is sent again.
func (p *AquariusProvider) login(ctx context.Context) error {
	var errs []error
	for _, mode := range p.modes {
		token, err := p.authenticate(ctx, mode.client)
		if err != nil {
			p.logger.Debug().Err(err).Str("tls_mode", mode.name).Msg("Authentication attempt failed")
			errs = append(errs, fmt.Errorf("%s: %w", mode.name, err))
			if ctx.Err() != nil || !certificateError(err) {
				break
			}
			continue
		}
		if mode.insecure {
			p.logger.Warn().Msg("Aquarius session established WITHOUT certificate verification")
		}
		p.mu.Lock()
		p.token = token
		p.client = mode.client
		p.expires = p.now().Add(p.cfg.TokenTTL)
		p.mu.Unlock()
		p.logger.Info().Str("tls_mode", mode.name).Msg("Aquarius session established")
		return nil
	}
	return fmt.Errorf("aquarius: authentication failed: %w", errors.Join(errs...))
}

func certificateError(err error) bool {
	var (
		verifyErr *tls.CertificateVerificationError
		unknown   x509.UnknownAuthorityError
		hostname  x509.HostnameError
		invalid   x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknown) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}

func (p *AquariusProvider) authenticate(ctx context.Context, client *http.Client) (string, error) {
	req, err := p.sessionRequest(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", err
	}
	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		return "", errors.New("empty session token")
	}
	return token, nil
}

// sessionRequest builds the login request. The password is held in locked
// memory only while the body is encoded.
func (p *AquariusProvider) sessionRequest(ctx context.Context) (*http.Request, error) {
	secret, err := p.keystore.Secret(credentials.AquariusPassword)
	if err != nil {
		return nil, err
	}
	defer secret.Destroy()

	body, err := json.Marshal(map[string]string{
		"Username":          p.cfg.Username,
		"EncryptedPassword": secret.String(),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type timeRange struct {
	from, to time.Time
}

// splitWindow divides [start, end) into sub-ranges holding at most limit points
// each, estimated from the interval step.
func splitWindow(start, end time.Time, iv hydro.Interval, limit int) []timeRange {
	total := end.Sub(start)
	if total <= 0 {
		return nil
	}
	points := int(total/iv.ApproxStep()) + 1
	n := (points + limit - 1) / limit
	if n < 1 {
		n = 1
	}
	size := total / time.Duration(n)
	ranges := make([]timeRange, 0, n)
	from := start
	for i := 0; i < n; i++ {
		to := from.Add(size)
		if i == n-1 {
			to = end
		}
		ranges = append(ranges, timeRange{from: from, to: to})
		from = to
	}
	return ranges
}

type aquariusPayload struct {
	Points []struct {
		Timestamp string `json:"Timestamp"`
		Value     struct {
			Numeric *float64 `json:"Numeric"`
		} `json:"Value"`
	} `json:"Points"`
}

func (p *AquariusProvider) Fetch(ctx context.Context, req hydro.FetchRequest) (map[string][]hydro.Row, error) {
	ranges := splitWindow(req.Start, req.End, req.Interval, p.cfg.QueryLimit)
	total := len(ranges) * len(req.SeriesIDs)

	var (
		mu   sync.Mutex
		bag  = make(map[string][]hydro.Row, len(req.SeriesIDs))
		done atomic.Int64
		g    errgroup.Group
	)
	g.SetLimit(p.cfg.MaxThreads)

	for _, id := range req.SeriesIDs {
		for _, r := range ranges {
			id, r := id, r
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				rows, err := p.fetchRange(ctx, id, r)
				if err != nil {
					p.logger.Warn().
						Err(err).
						Str("series", id).
						Time("from", r.from).
						Time("to", r.to).
						Msg("Sub-range fetch failed")
				} else {
					mu.Lock()
					bag[id] = append(bag[id], rows...)
					mu.Unlock()
				}
				n := done.Add(1)
				if req.Progress != nil {
					req.Progress(hydro.Progress{Source: string(hydro.FamilyAquarius), SubDone: int(n), SubTotal: total})
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for id, rows := range bag {
		bag[id] = hydro.SortRows(rows)
	}
	if err := ctx.Err(); err != nil {
		return bag, err
	}
	return bag, nil
}

func (p *AquariusProvider) fetchRange(ctx context.Context, id string, r timeRange) ([]hydro.Row, error) {
	values := url.Values{}
	values.Set("TimeSeriesUniqueId", id)
	values.Set("QueryFrom", p.toSource(r.from).Format(time.RFC3339))
	values.Set("QueryTo", p.toSource(r.to).Format(time.RFC3339))
	u := p.cfg.BaseURL + "/GetTimeSeriesCorrectedData?" + values.Encode()

	var payload aquariusPayload
	for attempt := 0; ; attempt++ {
		token, client, err := p.session(ctx)
		if err != nil {
			return nil, err
		}
		cfg := HTTPClientConfig{Client: client, Backoff: DefaultBackoff}
		err = getJSON(ctx, cfg, p.circuit, u, http.Header{aquariusAuthHdr: []string{token}}, &payload)
		if err == nil {
			break
		}
		if errors.Is(err, errUnauthorized) && attempt == 0 {
			p.invalidate()
			continue
		}
		return nil, err
	}

	rows := make([]hydro.Row, 0, len(payload.Points))
	for _, pt := range payload.Points {
		ts, err := time.Parse(time.RFC3339Nano, pt.Timestamp)
		if err != nil {
			continue
		}
		val := ""
		if pt.Value.Numeric != nil {
			val = strconv.FormatFloat(*pt.Value.Numeric, 'f', -1, 64)
		}
		rows = append(rows, hydro.Row{Timestamp: p.fromSource(ts), Value: val})
	}
	return rows, nil
}

// toSource interprets a wall-clock time in the configured offset.
func (p *AquariusProvider) toSource(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, p.loc)
}

// fromSource converts a source instant to wall-clock time in the configured offset.
func (p *AquariusProvider) fromSource(t time.Time) time.Time {
	return hydro.WallClock(t.In(p.loc))
}
