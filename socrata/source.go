// Package socrata fetches raw trips from a Socrata open data endpoint, such as
// the City of Chicago's taxi trips dataset.
package socrata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/json"
	"golang.org/x/time/rate"
)

const (
	// DefaultURL is the Chicago taxi trips dataset.
	DefaultURL = "https://data.cityofchicago.org/resource/ajtu-isnz.json"
	// DefaultPageSize is the number of rows requested per page.
	DefaultPageSize = 5000
	// DefaultAttempts is how many times a page is requested before giving up.
	DefaultAttempts = 7

	timeColumn = "trip_start_timestamp"
	// soqlTime is the layout of SoQL floating timestamp literals.
	soqlTime = "2006-01-02T15:04:05"
)

// Source is a cabs.Source paging through a Socrata dataset with $limit and
// $offset, ordered by trip start time.
type Source struct {
	url      string
	appToken string
	pageSize int
	client   *resty.Client
	limiter  *rate.Limiter
	log      cabs.Logger
}

// Option is a functional option for the Socrata Source.
type Option func(s *Source)

// OptURL sets the dataset's resource URL.
func OptURL(url string) Option {
	return func(s *Source) {
		s.url = url
	}
}

// OptAppToken sets the application token sent with every request, which
// raises the upstream's rate limits.
func OptAppToken(token string) Option {
	return func(s *Source) {
		s.appToken = token
	}
}

// OptPageSize sets the number of rows per page.
func OptPageSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// OptRetry sets the number of attempts per page and the bounds of the
// exponential backoff between them.
func OptRetry(attempts int, minWait, maxWait time.Duration) Option {
	return func(s *Source) {
		if attempts < 1 {
			attempts = 1
		}
		s.client.SetRetryCount(attempts - 1).
			SetRetryWaitTime(minWait).
			SetRetryMaxWaitTime(maxWait)
	}
}

// OptRate limits requests to rps per second. Zero means unlimited.
func OptRate(rps float64) Option {
	return func(s *Source) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// OptTimeout sets the timeout of a single request.
func OptTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.client.SetTimeout(d)
	}
}

// OptLogger sets the Source's logger.
func OptLogger(l cabs.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

// NewSource returns a Source for the Chicago taxi trips dataset unless
// configured otherwise.
func NewSource(opts ...Option) *Source {
	s := &Source{
		url:      DefaultURL,
		pageSize: DefaultPageSize,
		client:   resty.New(),
		log:      cabs.NopLogger{},
	}
	s.client.SetRetryCount(DefaultAttempts - 1).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(60 * time.Second).
		SetTimeout(2 * time.Minute).
		AddRetryCondition(retryable)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retryable retries throttled and failed requests; other client errors are
// permanent.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Where returns the SoQL filter selecting trips starting in w.
func Where(w cabs.Window) string {
	return fmt.Sprintf("%s >= '%s' AND %s < '%s'",
		timeColumn, w.Start.UTC().Format(soqlTime),
		timeColumn, w.End.UTC().Format(soqlTime))
}

// Fetch implements cabs.Source. Pages are requested until one comes back
// short.
func (s *Source) Fetch(ctx context.Context, w cabs.Window) ([]cabs.RawTrip, error) {
	var trips []cabs.RawTrip
	for offset := 0; ; offset += s.pageSize {
		page, err := s.page(ctx, w, offset)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching offset %d", offset)
		}
		s.log.Debugf("fetched %d rows at offset %d", len(page), offset)
		trips = append(trips, page...)
		if len(page) < s.pageSize {
			break
		}
	}
	s.log.Printf("fetched %d rows for %s", len(trips), w)
	return trips, nil
}

func (s *Source) page(ctx context.Context, w cabs.Window, offset int) ([]cabs.RawTrip, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for rate limiter")
		}
	}
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"$select": ":*,*",
			"$where":  Where(w),
			"$order":  timeColumn + " ASC",
			"$limit":  strconv.Itoa(s.pageSize),
			"$offset": strconv.Itoa(offset),
		})
	if s.appToken != "" {
		req.SetHeader("X-App-Token", s.appToken)
	}
	resp, err := req.Get(s.url)
	if err != nil {
		return nil, errors.Wrap(err, "requesting page")
	}
	if resp.IsError() {
		return nil, errors.Errorf("unexpected status %s: %.200s", resp.Status(), resp.Body())
	}
	return json.DecodeArray(resp.Body())
}
