package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// ImmichClient handles communication with the Immich API
type ImmichClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewImmichClient creates a new Immich API client
func NewImmichClient(baseURL, apiKey string) *ImmichClient {
	// Normalize URL - remove trailing slash
	baseURL = strings.TrimRight(baseURL, "/")

	return &ImmichClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ImmichAsset represents an asset returned from Immich API
type ImmichAsset struct {
	ID               string          `json:"id"`
	OriginalFileName string          `json:"originalFileName,omitempty"`
	OriginalPath     string          `json:"originalPath,omitempty"`
	FileCreatedAt    time.Time       `json:"fileCreatedAt"`
	ExifInfo         *ImmichExifInfo `json:"exifInfo,omitempty"`
}

// ImmichExifInfo contains EXIF metadata from an asset
type ImmichExifInfo struct {
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	DateTimeOriginal *time.Time `json:"dateTimeOriginal,omitempty"`
}

// HasGPS returns true if the asset has GPS coordinates
func (a *ImmichAsset) HasGPS() bool {
	return a.ExifInfo != nil &&
		a.ExifInfo.Latitude != nil &&
		a.ExifInfo.Longitude != nil
}

// GetTimestamp returns the best timestamp for the asset
func (a *ImmichAsset) GetTimestamp() time.Time {
	if a.ExifInfo != nil && a.ExifInfo.DateTimeOriginal != nil {
		return *a.ExifInfo.DateTimeOriginal
	}
	return a.FileCreatedAt
}

// Filename returns the asset's original file name
func (a *ImmichAsset) Filename() string {
	if a.OriginalFileName != "" {
		return a.OriginalFileName
	}
	if a.OriginalPath == "" {
		return a.ID
	}
	return path.Base(a.OriginalPath)
}

// ManifestRecord converts the asset to a manifest entry served through the
// thumbnail proxy. Assets without GPS yield a record that fails validation.
func (a *ImmichAsset) ManifestRecord() ManifestRecord {
	rec := ManifestRecord{
		Filename: a.Filename(),
		URL:      "/photos/immich/" + url.PathEscape(a.ID),
		Time:     a.GetTimestamp().UTC().Format(time.RFC3339Nano),
		Source:   "immich",
	}
	if a.HasGPS() {
		la, lo := Coordinate(*a.ExifInfo.Latitude), Coordinate(*a.ExifInfo.Longitude)
		rec.Latitude, rec.Longitude = &la, &lo
	}
	return rec
}

// SearchOptions defines parameters for searching assets
type SearchOptions struct {
	After    *time.Time
	Before   *time.Time
	Page     int
	PageSize int
}

// MetadataSearchResponse represents response from POST /search/metadata
type MetadataSearchResponse struct {
	Assets struct {
		Items    []ImmichAsset `json:"items"`
		NextPage *string       `json:"nextPage,omitempty"`
	} `json:"assets"`
}

// SearchAssets searches for image assets matching the given options
// Returns assets, hasMore flag, and any error
func (c *ImmichClient) SearchAssets(ctx context.Context, opts SearchOptions) ([]ImmichAsset, bool, error) {
	if opts.PageSize == 0 {
		opts.PageSize = 200
	}
	if opts.Page == 0 {
		opts.Page = 1
	}

	body := map[string]any{
		"page":     opts.Page,
		"size":     opts.PageSize,
		"type":     "IMAGE",
		"withExif": true,
		"order":    "asc", // Oldest first for consistent pagination
	}
	if opts.After != nil {
		body["takenAfter"] = opts.After.Format(time.RFC3339)
	}
	if opts.Before != nil {
		body["takenBefore"] = opts.Before.Format(time.RFC3339)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/search/metadata", body)
	if err != nil {
		return nil, false, fmt.Errorf("metadata search: %w", err)
	}
	defer resp.Body.Close()

	var result MetadataSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("decode metadata search: %w", err)
	}
	return result.Assets.Items, result.Assets.NextPage != nil, nil
}

// do sends an authenticated request with an optional JSON body. Responses
// other than 200 are returned as errors carrying the start of the body.
func (c *ImmichClient) do(ctx context.Context, method, apiPath string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+apiPath, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s %s: status %d: %s", method, apiPath, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// FetchManifest pages through every matching asset and returns one manifest
// record per asset. Assets without GPS are kept so that the load stats count
// them as dropped.
func (c *ImmichClient) FetchManifest(ctx context.Context, after, before *time.Time) ([]ManifestRecord, error) {
	var records []ManifestRecord
	for page := 1; ; page++ {
		assets, hasMore, err := c.SearchAssets(ctx, SearchOptions{After: after, Before: before, Page: page})
		if err != nil {
			return nil, fmt.Errorf("immich page %d: %w", page, err)
		}
		for i := range assets {
			records = append(records, assets[i].ManifestRecord())
		}
		klog.V(1).Infof("[immich] page %d: %d assets", page, len(assets))
		if !hasMore || len(assets) == 0 {
			break
		}
	}
	return records, nil
}

// GetThumbnail fetches a rendition of an asset.
// size can be "thumbnail" (default), "preview", or "fullsize"
func (c *ImmichClient) GetThumbnail(ctx context.Context, assetID, size string) ([]byte, string, error) {
	apiPath := "/api/assets/" + url.PathEscape(assetID) + "/thumbnail"
	if size != "" && size != "thumbnail" {
		apiPath += "?size=" + url.QueryEscape(size)
	}
	resp, err := c.do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return data, contentType, nil
}
