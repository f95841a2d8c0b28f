/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package integrations

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MediaServer mutates media player server state.
type MediaServer interface {
	// RefreshLibrary triggers a library rescan so deleted files drop out
	// of the player's views.
	RefreshLibrary(ctx context.Context) error
}

// MediaServerConfig configures the Jellyfin client.
type MediaServerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// JellyfinClient implements MediaServer against the Jellyfin API.
type JellyfinClient struct {
	cfg    MediaServerConfig
	client *http.Client
	logger zerolog.Logger
}

// NewJellyfinClient creates the media server client.
func NewJellyfinClient(cfg MediaServerConfig, logger zerolog.Logger) *JellyfinClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &JellyfinClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "mediaserver").Logger(),
	}
}

// RefreshLibrary implements MediaServer.
func (c *JellyfinClient) RefreshLibrary(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/Library/Refresh", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", `MediaBrowser Token="`+c.cfg.APIKey+`"`)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("media server refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("media server refresh: status %d", resp.StatusCode)
	}
	return nil
}
