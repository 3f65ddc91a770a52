// Package cdec reads observed station data from the California Data Exchange
// Center JSON data servlet.
package cdec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	queryDateLayout = "2006-01-02"
	source          = "cdec"
)

// CDEC writes these for unrecorded observations.
var missingValues = map[float64]bool{-9999: true, -9998: true, -901: true}

// defaultStart is used when a read leaves the start of the range open.
var defaultStart = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Client implements domain.SeriesReader over CDEC. Pathnames address a
// station sensor as /<source>/<station>/<sensor number>//<interval>/<any>/.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a CDEC client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
}

// durations maps pathname intervals to CDEC duration codes and the data type
// reported for them.
var durations = map[string]struct {
	code     string
	dataType string
}{
	domain.Interval1Month: {"M", "PER-AVER"},
	domain.Interval1Day:   {"D", "PER-AVER"},
	domain.Interval1Hour:  {"H", "INST-VAL"},
	"IR-DAY":              {"E", "INST-VAL"},
}

// Read fetches one station sensor. A response without records returns
// domain.ErrSeriesNotFound.
func (c *Client) Read(ctx context.Context, pathname string, r domain.TimeRange) (domain.Series, error) {
	p, err := domain.ParsePathname(pathname)
	if err != nil {
		return domain.Series{}, err
	}
	station := domain.NormalizePart(p.Location)
	sensor, err := strconv.Atoi(strings.TrimSpace(p.Category))
	if err != nil || station == "" {
		return domain.Series{}, fmt.Errorf("cdec pathname %s: need station and numeric sensor in parts B and C", pathname)
	}
	dur, ok := durations[domain.NormalizePart(p.Interval)]
	if !ok {
		return domain.Series{}, fmt.Errorf("cdec pathname %s: unsupported interval %q", pathname, p.Interval)
	}

	start, end := r.Start, r.End
	if start.IsZero() {
		start = defaultStart
	}
	if end.IsZero() {
		end = c.clock.Now()
	}
	params := url.Values{
		"Stations":   {station},
		"SensorNums": {strconv.Itoa(sensor)},
		"dur_code":   {dur.code},
		"Start":      {start.Format(queryDateLayout)},
		"End":        {end.Format(queryDateLayout)},
	}

	began := c.clock.Now()
	records, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	c.metrics.StoreOperationDuration.WithLabelValues(source, "read").Observe(c.clock.Since(began).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(source, "error").Inc()
		return domain.Series{}, err
	}
	if len(records) == 0 {
		c.metrics.UpstreamRequests.WithLabelValues(source, "empty").Inc()
		return domain.Series{}, fmt.Errorf("cdec %s sensor %d: %w", station, sensor, domain.ErrSeriesNotFound)
	}
	c.metrics.UpstreamRequests.WithLabelValues(source, "success").Inc()

	s := domain.Series{
		Pathname: pathname,
		Units:    strings.TrimSpace(records[0].Units),
		DataType: dur.dataType,
	}
	for _, rec := range records {
		ts, err := parseObservationDate(rec.Date)
		if err != nil {
			c.logger.Warn("skipping cdec record with bad date", "station", station, "date", rec.Date, "error", err)
			continue
		}
		if dur.code == "M" {
			ts = time.Date(ts.Year(), ts.Month()+1, 0, 0, 0, 0, 0, time.UTC)
		}
		v := domain.Missing()
		if rec.Value != nil && !missingValues[*rec.Value] {
			v = domain.Float(*rec.Value)
		}
		s.Times = append(s.Times, ts)
		s.Values = append(s.Values, v)
	}
	s.ID = domain.SeriesID("", s.Pathname, s.Units, s.DataType)
	return s, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cdec request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cdec API error: status %d: %s", resp.StatusCode, body)
	}

	var records []record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}

// parseObservationDate accepts the servlet's unpadded "2019-9-1 0:00" form.
func parseObservationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-1-2 15:04", "2006-1-2 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// CDEC API response types.

type record struct {
	StationID  string   `json:"stationId"`
	DurCode    string   `json:"durCode"`
	SensorNum  int      `json:"SENSOR_NUM"`
	SensorType string   `json:"sensorType"`
	Date       string   `json:"date"`
	ObsDate    string   `json:"obsDate"`
	Value      *float64 `json:"value"`
	DataFlag   string   `json:"dataFlag"`
	Units      string   `json:"units"`
}
