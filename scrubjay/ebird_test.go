package scrubjay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ebirdNotablePayload = `[
  {
    "speciesCode": "grccra1",
    "comName": "Gray-crowned Crane",
    "sciName": "Balearica regulorum",
    "locId": "L1",
    "locName": "Stewart Park",
    "obsDt": "2026-08-20 09:15",
    "howMany": 2,
    "lat": 42.46,
    "lng": -76.51,
    "obsValid": false,
    "obsReviewed": false,
    "locationPrivate": false,
    "subId": "S100",
    "countryCode": "US",
    "subnational1Code": "US-NY",
    "subnational2Code": "US-NY-109",
    "evidence": "P"
  },
  {
    "speciesCode": "rufhum",
    "comName": "Rufous Hummingbird",
    "sciName": "Selasphorus rufus",
    "locId": "L2",
    "locName": "Backyard",
    "obsDt": "2026-08-20 11:00",
    "howMany": 1,
    "obsValid": true,
    "obsReviewed": true,
    "locationPrivate": true,
    "subId": "S101",
    "countryCode": "US",
    "subnational1Code": "US-NY",
    "subnational2Code": "US-NY-055",
    "evidence": "A"
  },
  {
    "speciesCode": "",
    "comName": "Broken Row",
    "subId": "",
    "locId": ""
  }
]`

func newEBirdTestServer(
	t *testing.T,
	payload string,
) (*httptest.Server, *EBirdClient) {
	t.Helper()
	var gotToken, gotPath string
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				gotToken = r.Header.Get(ebirdTokenHeader)
				gotPath = r.URL.Path
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(payload))
			},
		),
	)
	t.Cleanup(srv.Close)
	t.Cleanup(
		func() {
			if gotPath != "" {
				assert.Equal(t, "/data/obs/US-NY/recent/notable", gotPath)
				assert.Equal(t, "test-token", gotToken)
			}
		},
	)
	client := NewEBirdClient(srv.URL, "test-token", 100, srv.Client(), nil)
	return srv, client
}

func TestEBirdClientRecentNotable(t *testing.T) {
	_, client := newEBirdTestServer(t, ebirdNotablePayload)

	observations, err := client.RecentNotable(context.Background(), "US-NY")
	require.NoError(t, err)
	require.Len(t, observations, 3)
	assert.Equal(t, "grccra1", observations[0].SpeciesCode)
	assert.Equal(t, "US-NY-109", observations[0].Subnational2)
	assert.True(t, observations[1].LocationPrivate)
}

func TestEBirdClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "no api key", http.StatusForbidden)
			},
		),
	)
	t.Cleanup(srv.Close)
	client := NewEBirdClient(srv.URL, "bad-token", 100, srv.Client(), nil)

	_, err := client.RecentNotable(context.Background(), "US-NY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestEBirdIngestRegion(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	_, client := newEBirdTestServer(t, ebirdNotablePayload)
	ingestor := NewEBirdIngestor(client, writeDB, []string{"US-NY"}, nil)
	ctx := context.Background()

	count, err := ingestor.IngestRegion(ctx, "US-NY")
	require.NoError(t, err)
	// the row missing its natural key fields is skipped
	assert.Equal(t, 2, count)

	var locations []Location
	require.NoError(t, gdb.Order("loc_id").Find(&locations).Error)
	require.Len(t, locations, 2)
	assert.Equal(t, "Stewart Park", locations[0].Name)
	assert.Equal(t, "US-NY-109", locations[0].CountyCode)
	assert.True(t, locations[1].Private)

	var crane Observation
	require.NoError(
		t,
		gdb.Where("obs_key = ?", "grccra1:S100").Take(&crane).Error,
	)
	assert.Equal(t, "gray-crowned crane", crane.SpeciesKey)
	assert.Equal(t, 2, crane.HowMany)
	assert.Equal(t, 1, crane.PhotoCount)
	assert.Zero(t, crane.AudioCount)
	assert.False(t, crane.Reviewed)

	var hummingbird Observation
	require.NoError(
		t,
		gdb.Where("obs_key = ?", "rufhum:S101").Take(&hummingbird).Error,
	)
	assert.Equal(t, 1, hummingbird.AudioCount)
	assert.True(t, hummingbird.Reviewed)
}

func TestEBirdIngestRegionUpsert(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	_, client := newEBirdTestServer(t, ebirdNotablePayload)
	ingestor := NewEBirdIngestor(client, writeDB, []string{"US-NY"}, nil)
	ctx := context.Background()

	_, err := ingestor.IngestRegion(ctx, "US-NY")
	require.NoError(t, err)

	var before Observation
	require.NoError(
		t,
		gdb.Where("obs_key = ?", "grccra1:S100").Take(&before).Error,
	)

	// second ingestion of the same payload: no duplicates, watermark kept
	_, err = ingestor.IngestRegion(ctx, "US-NY")
	require.NoError(t, err)

	var count int64
	require.NoError(t, gdb.Model(&Observation{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var after Observation
	require.NoError(
		t,
		gdb.Where("obs_key = ?", "grccra1:S100").Take(&after).Error,
	)
	assert.Equal(
		t,
		before.CreatedAt,
		after.CreatedAt,
		"re-ingestion must not move the ingestion watermark",
	)
}

func TestEBirdIngestAllSkipsFailedRegions(t *testing.T) {
	writeDB, gdb := newTestDB(t)

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/data/obs/US-XX/recent/notable" {
					http.Error(w, "unknown region", http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(ebirdNotablePayload))
			},
		),
	)
	t.Cleanup(srv.Close)
	client := NewEBirdClient(srv.URL, "test-token", 100, srv.Client(), nil)
	ingestor := NewEBirdIngestor(
		client,
		writeDB,
		[]string{"US-XX", "US-NY"},
		nil,
	)

	// the failed region is logged and skipped, the good one ingested
	require.NoError(t, ingestor.IngestAll(context.Background()))

	var count int64
	require.NoError(t, gdb.Model(&Observation{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
