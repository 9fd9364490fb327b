package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/circuitbreaker"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/retry"
	"github.com/civic-sage/backend/pkg/utils"
)

var (
	// ErrLocationUnavailable means the coordinates map to no UK postcode.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrGeocodingUnavailable means the geocoding service could not be reached.
	ErrGeocodingUnavailable = errors.New("geocoding unavailable")
)

const DefaultPostcodesURL = "https://api.postcodes.io"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Geocoder interface {
	Lookup(ctx context.Context, lat, lon float64) (*models.Location, error)
}

// Cache is satisfied by the redis cache client.
type Cache interface {
	GetJSON(ctx context.Context, cacheType, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// PostcodesIO reverse-geocodes through the postcodes.io API.
type PostcodesIO struct {
	baseURL     string
	httpClient  *http.Client
	cache       Cache
	cacheTTL    time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewPostcodesIO(baseURL string, timeout time.Duration) *PostcodesIO {
	if baseURL == "" {
		baseURL = DefaultPostcodesURL
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &PostcodesIO{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker("postcodes", circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          time.Minute,
			Logger:           logger.Named("geocoder"),
			OnStateChange:    metrics.BreakerStateChanged,
		}),
		retryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     time.Second,
			Logger:       logger.Named("geocoder"),
		},
	}
}

// WithCache caches lookups by rounded coordinates.
func (g *PostcodesIO) WithCache(cache Cache, ttl time.Duration) *PostcodesIO {
	g.cache = cache
	g.cacheTTL = ttl
	return g
}

type postcodesResponse struct {
	Status int              `json:"status"`
	Result []postcodeResult `json:"result"`
}

type postcodeResult struct {
	Postcode                  string `json:"postcode"`
	AdminWard                 string `json:"admin_ward"`
	ParliamentaryConstituency string `json:"parliamentary_constituency"`
	Codes                     struct {
		AdminWard                 string `json:"admin_ward"`
		ParliamentaryConstituency string `json:"parliamentary_constituency"`
	} `json:"codes"`
}

func (g *PostcodesIO) Lookup(ctx context.Context, lat, lon float64) (*models.Location, error) {
	key := utils.CacheKey("geocode", strconv.FormatFloat(lat, 'f', 4, 64), strconv.FormatFloat(lon, 'f', 4, 64))
	if g.cache != nil {
		var cached models.Location
		ok, err := g.cache.GetJSON(ctx, "geocode", key, &cached)
		if err != nil {
			logger.Warn("Geocode cache read failed", zap.Error(err))
		} else if ok {
			return &cached, nil
		}
	}

	resp, err := retry.Guarded(ctx, g.cb, g.retryConfig, func() (postcodesResponse, error) {
		return g.fetch(ctx, lat, lon)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeocodingUnavailable, err)
	}
	if len(resp.Result) == 0 {
		return nil, ErrLocationUnavailable
	}

	r := resp.Result[0]
	loc := &models.Location{
		Ward:             r.AdminWard,
		WardCode:         r.Codes.AdminWard,
		Constituency:     r.ParliamentaryConstituency,
		ConstituencyCode: r.Codes.ParliamentaryConstituency,
	}

	if g.cache != nil {
		if err := g.cache.SetJSON(ctx, key, loc, g.cacheTTL); err != nil {
			logger.Warn("Geocode cache write failed", zap.Error(err))
		}
	}
	return loc, nil
}

func (g *PostcodesIO) fetch(ctx context.Context, lat, lon float64) (postcodesResponse, error) {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/postcodes?"+q.Encode(), nil)
	if err != nil {
		return postcodesResponse{}, retry.Permanent(err)
	}

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return postcodesResponse{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return postcodesResponse{}, err
	}
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return postcodesResponse{}, fmt.Errorf("postcodes.io returned status %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode == http.StatusNotFound {
		return postcodesResponse{}, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		return postcodesResponse{}, retry.Permanent(fmt.Errorf("postcodes.io returned status %d", httpResp.StatusCode))
	}

	var out postcodesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return postcodesResponse{}, retry.Permanent(fmt.Errorf("failed to decode postcodes.io response: %w", err))
	}
	return out, nil
}

// Resolve returns the visitor's location, or the unavailable sentinel when
// there are no coordinates or the lookup fails.
func Resolve(ctx context.Context, g Geocoder, coords *Coordinates) models.Location {
	if coords == nil || g == nil {
		return models.UnavailableLocation()
	}
	loc, err := g.Lookup(ctx, coords.Lat, coords.Lon)
	if err != nil {
		metrics.DegradedStages.WithLabelValues("geocode").Inc()
		logger.Warn("Location lookup failed, using sentinel", zap.Error(err))
		return models.UnavailableLocation()
	}
	return *loc
}
