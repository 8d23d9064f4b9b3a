package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	latestPath     = "/latest"
	timeseriesPath = "/timeseries"
	dateLayout     = "2006-01-02"
)

// HTTPOptions parameterise the FX API client.
type HTTPOptions struct {
	BaseURL   string
	AccessKey string
	Base      string
	Target    string
	Timeout   time.Duration
	UserAgent string
}

// HTTPProvider fetches rates from an exchangerate.host style REST API.
type HTTPProvider struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPProvider constructs an FX API client.
func NewHTTPProvider(opts HTTPOptions, logger zerolog.Logger) *HTTPProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}

	return &HTTPProvider{
		opts:    opts,
		logger:  logger.With().Str("component", "rate_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type latestResponse struct {
	Date  string                 `json:"date"`
	Rates map[string]json.Number `json:"rates"`
}

type timeseriesResponse struct {
	Rates map[string]map[string]json.Number `json:"rates"`
}

// FetchLatest retrieves the current rate for the configured currency pair.
func (p *HTTPProvider) FetchLatest(ctx context.Context) (Observation, error) {
	query := url.Values{}
	query.Set("base", p.opts.Base)
	query.Set("symbols", p.opts.Target)

	var payload latestResponse
	if err := p.getJSON(ctx, latestPath, query, &payload); err != nil {
		return Observation{}, err
	}

	raw, ok := payload.Rates[p.opts.Target]
	if !ok {
		return Observation{}, fmt.Errorf("%w: response missing rate for %s", ErrSourceUnavailable, p.opts.Target)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return Observation{}, fmt.Errorf("%w: parse rate %q: %v", ErrSourceUnavailable, raw.String(), err)
	}

	date := Day(time.Now())
	if payload.Date != "" {
		parsed, parseErr := time.ParseInLocation(dateLayout, payload.Date, time.UTC)
		if parseErr != nil {
			return Observation{}, fmt.Errorf("%w: parse date %q: %v", ErrSourceUnavailable, payload.Date, parseErr)
		}
		date = parsed
	}

	return Observation{Date: date, Rate: rate}, nil
}

// FetchTimeseries retrieves daily rates in [from, to], ordered by date ascending.
func (p *HTTPProvider) FetchTimeseries(ctx context.Context, from, to time.Time) ([]Observation, error) {
	query := url.Values{}
	query.Set("base", p.opts.Base)
	query.Set("symbols", p.opts.Target)
	query.Set("start_date", from.UTC().Format(dateLayout))
	query.Set("end_date", to.UTC().Format(dateLayout))

	var payload timeseriesResponse
	if err := p.getJSON(ctx, timeseriesPath, query, &payload); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(payload.Rates))
	for date := range payload.Rates {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	observations := make([]Observation, 0, len(dates))
	for _, date := range dates {
		raw, ok := payload.Rates[date][p.opts.Target]
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, fmt.Errorf("%w: parse rate %q for %s: %v", ErrSourceUnavailable, raw.String(), date, err)
		}
		parsed, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: parse date %q: %v", ErrSourceUnavailable, date, err)
		}
		observations = append(observations, Observation{Date: parsed, Rate: rate})
	}

	return observations, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if p.opts.AccessKey != "" {
		query.Set("access_key", p.opts.AccessKey)
	}

	endpoint := p.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrSourceUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("rate api returned non-2xx")
		return fmt.Errorf("%w: unexpected status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSourceUnavailable, err)
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
