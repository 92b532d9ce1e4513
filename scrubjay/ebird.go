package scrubjay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm/clause"
)

const (
	defaultEBirdBaseURL = "https://api.ebird.org/v2"
	ebirdTokenHeader    = "X-eBirdApiToken"

	// evidence codes attached to notable observations
	ebirdEvidencePhoto = "P"
	ebirdEvidenceAudio = "A"
	ebirdEvidenceVideo = "V"
)

// ebirdObservation mirrors the relevant fields of eBird's
// detail=full notable observation payload.
type ebirdObservation struct {
	SpeciesCode     string  `json:"speciesCode"`
	ComName         string  `json:"comName"`
	SciName         string  `json:"sciName"`
	LocID           string  `json:"locId"`
	LocName         string  `json:"locName"`
	ObsDt           string  `json:"obsDt"`
	HowMany         int     `json:"howMany"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	ObsValid        bool    `json:"obsValid"`
	ObsReviewed     bool    `json:"obsReviewed"`
	LocationPrivate bool    `json:"locationPrivate"`
	SubID           string  `json:"subId"`
	CountryCode     string  `json:"countryCode"`
	Subnational1    string  `json:"subnational1Code"`
	Subnational2    string  `json:"subnational2Code"`
	Evidence        string  `json:"evidence"`
}

// EBirdClient fetches notable observations from the eBird API. The
// base URL and HTTP client are injectable for tests; requests are
// paced by a shared rate limiter since eBird throttles aggressively.
type EBirdClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewEBirdClient(
	baseURL string,
	token string,
	requestsPerSecond float64,
	httpClient *http.Client,
	log *slog.Logger,
) *EBirdClient {
	if baseURL == "" {
		baseURL = defaultEBirdBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &EBirdClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     log.With(loggerNameKey, "ebird_client"),
	}
}

// RecentNotable fetches recent notable observations for the given
// region code. An empty list is a valid, non-error outcome.
func (c *EBirdClient) RecentNotable(
	ctx context.Context,
	region string,
) ([]ebirdObservation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"%s/data/obs/%s/recent/notable?detail=full",
		c.baseURL,
		url.PathEscape(region),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ebirdTokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf(
			"ebird API returned %d for %s: %s",
			resp.StatusCode, region, string(body),
		)
	}

	var observations []ebirdObservation
	if err := json.NewDecoder(resp.Body).Decode(&observations); err != nil {
		return nil, fmt.Errorf("error decoding ebird response: %w", err)
	}
	return observations, nil
}

// EBirdIngestor fetches notable observations for each configured
// region and upserts them (and their locations) into storage, keyed by
// their natural keys. Re-ingesting refreshes mutable attributes like
// review state without creating duplicates.
type EBirdIngestor struct {
	client  *EBirdClient
	db      DBI
	regions []string
	logger  *slog.Logger
}

func NewEBirdIngestor(
	client *EBirdClient,
	db DBI,
	regions []string,
	log *slog.Logger,
) *EBirdIngestor {
	if log == nil {
		log = slog.Default()
	}
	return &EBirdIngestor{
		client:  client,
		db:      db,
		regions: regions,
		logger:  log.With(loggerNameKey, "ebird_ingestor"),
	}
}

// IngestAll fetches every configured region. Per-region failures are
// logged and skipped; the next scheduled ingestion retries them.
func (ing *EBirdIngestor) IngestAll(ctx context.Context) error {
	for _, region := range ing.regions {
		count, err := ing.IngestRegion(ctx, region)
		if err != nil {
			ing.logger.ErrorContext(
				ctx,
				"error ingesting region",
				tint.Err(err),
				"region", region,
			)
			continue
		}
		ing.logger.InfoContext(
			ctx,
			"ingested region",
			"region", region,
			"observations", count,
		)
	}
	return nil
}

// IngestRegion fetches and upserts one region's notable observations,
// returning the number of observations processed.
func (ing *EBirdIngestor) IngestRegion(
	ctx context.Context,
	region string,
) (int, error) {
	observations, err := ing.client.RecentNotable(ctx, region)
	if err != nil {
		return 0, err
	}
	if len(observations) == 0 {
		return 0, nil
	}

	locations := map[string]Location{}
	rows := make([]Observation, 0, len(observations))
	for _, obs := range observations {
		if obs.SpeciesCode == "" || obs.SubID == "" || obs.LocID == "" {
			ing.logger.WarnContext(
				ctx,
				"skipping observation missing natural key fields",
				"species_code", obs.SpeciesCode,
				"sub_id", obs.SubID,
				"loc_id", obs.LocID,
			)
			continue
		}
		locations[obs.LocID] = Location{
			LocID:       obs.LocID,
			Name:        obs.LocName,
			Private:     obs.LocationPrivate,
			CountryCode: obs.CountryCode,
			RegionCode:  obs.Subnational1,
			CountyCode:  obs.Subnational2,
			Latitude:    obs.Lat,
			Longitude:   obs.Lng,
		}
		row := Observation{
			ObsKey:      observationKey(obs.SpeciesCode, obs.SubID),
			SpeciesCode: obs.SpeciesCode,
			CommonName:  obs.ComName,
			SpeciesKey:  normalizeContentKey(obs.ComName),
			SciName:     obs.SciName,
			SubID:       obs.SubID,
			LocID:       obs.LocID,
			ObsDt:       obs.ObsDt,
			HowMany:     obs.HowMany,
			Valid:       obs.ObsValid,
			Reviewed:    obs.ObsReviewed,
		}
		switch obs.Evidence {
		case ebirdEvidencePhoto:
			row.PhotoCount = 1
		case ebirdEvidenceAudio:
			row.AudioCount = 1
		case ebirdEvidenceVideo:
			row.VideoCount = 1
		}
		rows = append(rows, row)
	}

	if err := ing.upsertLocations(ctx, locations); err != nil {
		return 0, err
	}
	if err := ing.upsertObservations(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (ing *EBirdIngestor) upsertLocations(
	ctx context.Context,
	locations map[string]Location,
) error {
	if len(locations) == 0 {
		return nil
	}
	rows := make([]Location, 0, len(locations))
	for _, loc := range locations {
		rows = append(rows, loc)
	}
	ing.db.Lock()
	defer ing.db.Unlock()
	return ing.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: columnLocationLocID}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name",
				"private",
				"country_code",
				"region_code",
				"county_code",
				"latitude",
				"longitude",
				"updated_at",
			}),
		},
	).Create(&rows).Error
}

func (ing *EBirdIngestor) upsertObservations(
	ctx context.Context,
	rows []Observation,
) error {
	if len(rows) == 0 {
		return nil
	}
	ing.db.Lock()
	defer ing.db.Unlock()
	// created_at is deliberately not in the update set: it's the
	// dispatch watermark and must reflect first ingestion.
	return ing.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: columnObservationObsKey}},
			DoUpdates: clause.AssignmentColumns([]string{
				"obs_dt",
				"how_many",
				"valid",
				"reviewed",
				"photo_count",
				"audio_count",
				"video_count",
				"updated_at",
			}),
		},
	).Create(&rows).Error
}
