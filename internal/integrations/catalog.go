/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package integrations holds thin HTTP clients for the external systems
// touched during deletions: the movie catalog (Radarr) and the media
// player server. Components depend on the interfaces so tests stub them.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Catalog mutates movie catalog state.
type Catalog interface {
	// RescanMovie asks the catalog to re-inspect a movie's files on disk.
	RescanMovie(ctx context.Context, radarrID int64) error
	// DeleteMovie removes the catalog entry. Physical files are never
	// touched through this call.
	DeleteMovie(ctx context.Context, radarrID int64) error
	// DisableAutoSearch stops the catalog from re-downloading the movie.
	DisableAutoSearch(ctx context.Context, radarrID int64) error
}

// CatalogConfig configures the Radarr client.
type CatalogConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RadarrClient implements Catalog against the Radarr v3 API.
type RadarrClient struct {
	cfg    CatalogConfig
	client *http.Client
	logger zerolog.Logger
}

// NewRadarrClient creates the catalog client. Outbound calls carry
// tracing spans via the otelhttp transport.
func NewRadarrClient(cfg CatalogConfig, logger zerolog.Logger) *RadarrClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RadarrClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

func (c *RadarrClient) do(ctx context.Context, method, path string, body any) error {
	var buf *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(raw)
	} else {
		buf = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("catalog %s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}

// RescanMovie implements Catalog.
func (c *RadarrClient) RescanMovie(ctx context.Context, radarrID int64) error {
	return c.do(ctx, http.MethodPost, "/api/v3/command", map[string]any{
		"name":     "RescanMovie",
		"movieIds": []int64{radarrID},
	})
}

// DeleteMovie implements Catalog. deleteFiles is always false: physical
// removal is the watchers' job.
func (c *RadarrClient) DeleteMovie(ctx context.Context, radarrID int64) error {
	path := "/api/v3/movie/" + strconv.FormatInt(radarrID, 10) +
		"?deleteFiles=false&addImportExclusion=false"
	return c.do(ctx, http.MethodDelete, path, nil)
}

// DisableAutoSearch implements Catalog by unmonitoring the movie.
func (c *RadarrClient) DisableAutoSearch(ctx context.Context, radarrID int64) error {
	path := "/api/v3/movie/editor"
	return c.do(ctx, http.MethodPut, path, map[string]any{
		"movieIds":  []int64{radarrID},
		"monitored": false,
	})
}
