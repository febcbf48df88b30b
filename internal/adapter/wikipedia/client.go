// internal/adapter/wikipedia/client.go

package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"latent/internal/domain/geo"
)

// Radius bounds accepted by the geosearch API, in meters
const (
	MinRadiusMeters = 10
	MaxRadiusMeters = 10000
)

// DefaultLimit is the number of pages requested per lookup
const DefaultLimit = 50

// Client queries the MediaWiki geosearch API for nearby articles
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	UserAgent  string
	Limit      int
	logger     *zap.Logger
}

// geoSearchResponse represents the structure of the geosearch response
type geoSearchResponse struct {
	Query struct {
		GeoSearch []struct {
			PageID int64   `json:"pageid"`
			Title  string  `json:"title"`
			Lat    float64 `json:"lat"`
			Lon    float64 `json:"lon"`
			Dist   float64 `json:"dist"`
		} `json:"geosearch"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// NewClient creates a new Wikipedia API client. An empty baseURL selects
// English Wikipedia.
func NewClient(baseURL string, limit int, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org/w/api.php"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL:   baseURL,
		UserAgent: "latent/1.0",
		Limit:     limit,
		logger:    logger,
	}
}

// Name returns the source name
func (c *Client) Name() string {
	return "wikipedia"
}

// NearbyAnchors returns articles geotagged within radiusMeters of position,
// nearest first
func (c *Client) NearbyAnchors(ctx context.Context, position geo.Position, radiusMeters float64) ([]geo.Anchor, error) {
	radius := ClampRadius(radiusMeters)

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "geosearch")
	params.Set("format", "json")
	params.Set("gscoord", fmt.Sprintf("%f|%f", position.Latitude, position.Longitude))
	params.Set("gsradius", strconv.Itoa(radius))
	params.Set("gslimit", strconv.Itoa(c.Limit))

	endpoint := c.BaseURL + "?" + params.Encode()
	c.logger.Debug("Making request to Wikipedia API", zap.String("url", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Wikimedia rejects requests without a descriptive User-Agent
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wikipedia API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Wikipedia API returned status code %d", resp.StatusCode)
	}

	var searchResp geoSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode Wikipedia API response: %w", err)
	}

	if searchResp.Error != nil {
		return nil, fmt.Errorf("Wikipedia API error %s: %s", searchResp.Error.Code, searchResp.Error.Info)
	}

	anchors := make([]geo.Anchor, 0, len(searchResp.Query.GeoSearch))
	for _, page := range searchResp.Query.GeoSearch {
		anchors = append(anchors, geo.Anchor{
			ID:             strconv.FormatInt(page.PageID, 10),
			Title:          page.Title,
			Latitude:       page.Lat,
			Longitude:      page.Lon,
			DistanceMeters: page.Dist,
		})
	}

	sort.SliceStable(anchors, func(i, j int) bool {
		return anchors[i].DistanceMeters < anchors[j].DistanceMeters
	})

	c.logger.Debug("Received anchors from Wikipedia API", zap.Int("count", len(anchors)))
	return anchors, nil
}

// ClampRadius bounds a radius to what the geosearch API accepts
func ClampRadius(radiusMeters float64) int {
	r := int(radiusMeters)
	if r < MinRadiusMeters {
		return MinRadiusMeters
	}
	if r > MaxRadiusMeters {
		return MaxRadiusMeters
	}
	return r
}
