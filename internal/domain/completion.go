package domain

import (
	"github.com/couchcryptid/flir-etl-service/internal/raster"
	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ExtractorName identifies this service in completion events and ledgers.
const ExtractorName = "terra.multispectral.flir2tif"

// SummarizeTemperature reports min, max and mean over the finite pixels of
// grid. It returns nil when no pixel is finite.
func SummarizeTemperature(grid thermal.Raster) *TemperatureSummary {
	values := grid.Values()
	finite := raster.FiniteValues(values)
	if len(finite) == 0 {
		return nil
	}
	return &TemperatureSummary{
		MinC:        floats.Min(finite),
		MaxC:        floats.Max(finite),
		MeanC:       stat.Mean(finite, nil),
		ValidPixels: len(finite),
		TotalPixels: len(values),
	}
}

// StampCompletion fills in the extractor name and processing time.
func StampCompletion(c Completion) Completion {
	if c.Extractor == "" {
		c.Extractor = ExtractorName
	}
	c.ProcessedAt = clock.Now().UTC()
	return c
}
