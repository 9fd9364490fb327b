package geo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-sage/backend/internal/storage/models"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) GetJSON(_ context.Context, _, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

const hambleResponse = `{"status":200,"result":[{
	"postcode":"SO31 4NR",
	"admin_ward":"Hamble and Netley",
	"parliamentary_constituency":"Hamble Valley",
	"codes":{"admin_ward":"E05011195","parliamentary_constituency":"E14001272"}
}]}`

func TestLookupParsesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/postcodes", r.URL.Path)
		assert.Equal(t, "-1.3", r.URL.Query().Get("lon"))
		assert.Equal(t, "50.86", r.URL.Query().Get("lat"))
		_, _ = io.WriteString(w, hambleResponse)
	}))
	defer srv.Close()

	g := NewPostcodesIO(srv.URL, time.Second).WithCache(&memCache{data: map[string][]byte{}}, time.Hour)

	for i := 0; i < 2; i++ {
		loc, err := g.Lookup(context.Background(), 50.86, -1.3)
		require.NoError(t, err)
		assert.Equal(t, &models.Location{
			Ward:             "Hamble and Netley",
			WardCode:         "E05011195",
			Constituency:     "Hamble Valley",
			ConstituencyCode: "E14001272",
		}, loc)
	}
	assert.Equal(t, 1, calls)
}

func TestLookupNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":200,"result":null}`)
	}))
	defer srv.Close()

	_, err := NewPostcodesIO(srv.URL, time.Second).Lookup(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestLookupServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPostcodesIO(srv.URL, time.Second).Lookup(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrGeocodingUnavailable)
}

type failingGeocoder struct{}

func (failingGeocoder) Lookup(context.Context, float64, float64) (*models.Location, error) {
	return nil, errors.New("down")
}

func TestResolveFallsBackToSentinel(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, models.UnavailableLocation(), Resolve(ctx, failingGeocoder{}, &Coordinates{Lat: 1, Lon: 2}))
	assert.Equal(t, models.UnavailableLocation(), Resolve(ctx, failingGeocoder{}, nil))
}
