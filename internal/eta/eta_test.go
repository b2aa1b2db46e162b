package eta

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeClient struct {
	v     float64
	err   error
	calls int
}

func (f *fakeClient) EstimateSeconds(from, to models.Coordinate) (float64, error) {
	f.calls++
	return f.v, f.err
}

func TestEstimatorPrefersCacheThenClient(t *testing.T) {
	a := models.Coordinate{Latitude: 24.86, Longitude: 67.01}
	b := models.Coordinate{Latitude: 24.87, Longitude: 67.02}
	c := &fakeClient{v: 300}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), DefaultSpeedMps: 10}
	if got := e.Seconds(a, b); got != 300 {
		t.Fatalf("seconds = %f", got)
	}
	_ = e.Seconds(a, b)
	if c.calls != 1 {
		t.Fatalf("client called %d times, cache should absorb the second", c.calls)
	}
	if m := e.Minutes(a, b); m != 5 {
		t.Fatalf("minutes = %f", m)
	}
}

func TestEstimatorFallsBackToStraightLine(t *testing.T) {
	a := models.Coordinate{Latitude: 0, Longitude: 0}
	b := models.Coordinate{Latitude: 0.01, Longitude: 0}
	e := &Estimator{Client: &fakeClient{err: errors.New("down")}, DefaultSpeedMps: 10}
	got := e.Seconds(a, b)
	if got < 110 || got > 112 {
		t.Fatalf("straight line estimate %f", got)
	}
}

func TestOSRMClient(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":42.5}]}`))
	}))
	defer srv.Close()
	v, err := NewOSRMClient(srv.URL+"/").EstimateSeconds(models.Coordinate{Latitude: 2, Longitude: 3}, models.Coordinate{Latitude: 1})
	if err != nil || v != 42.5 {
		t.Fatalf("osrm = %f, %v", v, err)
	}
	if path != "/route/v1/driving/3.000000,2.000000;0.000000,1.000000" {
		t.Fatalf("path = %s", path)
	}
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route","routes":[]}`))
	}))
	defer srv.Close()
	if _, err := NewOSRMClient(srv.URL).EstimateSeconds(models.Coordinate{}, models.Coordinate{}); err == nil {
		t.Fatal("expected error for NoRoute")
	}
}
