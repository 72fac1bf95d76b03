package domain

import (
	"context"
	"log/slog"
)

// EnrichWithSite names the site at the centre of the completion's bounds.
// A nil locator or missing bounds leaves the completion unchanged; a lookup
// failure is logged and recorded as SiteSource "failed".
func EnrichWithSite(ctx context.Context, c Completion, locator SiteLocator, logger *slog.Logger) Completion {
	if locator == nil || c.Bounds == nil {
		return c
	}

	lat, lon := c.Bounds.Center()
	result, err := locator.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"dataset_id", c.DatasetID,
			"lat", lat,
			"lon", lon,
			"error", err,
		)
		c.SiteSource = "failed"
		return c
	}
	if result.FormattedAddress == "" && result.PlaceName == "" {
		return c
	}

	c.SiteName = result.PlaceName
	c.SiteAddress = result.FormattedAddress
	c.SiteSource = "reverse"
	return c
}
