package agl

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/hut8/soar/internal/security"
)

// demTileDegrees is the coverage of one DEM tile file: a 1x1 degree cell
// named by its southwest corner, the layout SRTM-derived tile sets use.
const demTileDegrees = 1

// demSamplesPerSide is the number of elevation samples along one edge of a
// tile, matching SRTM3's 3 arc-second resolution.
const demSamplesPerSide = 1201

// DEMSource is a TerrainSource reading 16-bit big-endian elevation
// samples from flat SRTM .hgt tiles on disk, one file per whole-degree
// cell. A tile that is missing or short, or a void sample, is reported as
// an error; the elevation worker then skips that fix, so AGL stays
// best-effort and a coastal or void tile does not stall the pool.
type DEMSource struct {
	dir string
}

// NewDEMSource constructs a DEMSource reading tiles from dir.
func NewDEMSource(dir string) *DEMSource {
	return &DEMSource{dir: dir}
}

// ElevationFeet implements TerrainSource.
func (d *DEMSource) ElevationFeet(lat, lon float64) (int, error) {
	tilePath := filepath.Join(d.dir, tileFileName(lat, lon))
	if err := security.ValidatePathWithinDirectory(tilePath, d.dir); err != nil {
		return 0, fmt.Errorf("agl: %w", err)
	}
	data, err := os.ReadFile(tilePath)
	if err != nil {
		return 0, fmt.Errorf("agl: read DEM tile %s: %w", tilePath, err)
	}
	if len(data) < demSamplesPerSide*demSamplesPerSide*2 {
		return 0, fmt.Errorf("agl: DEM tile %s is short (%d bytes)", tilePath, len(data))
	}

	row, col := sampleIndex(lat, lon)
	offset := (row*demSamplesPerSide + col) * 2
	raw := int16(binary.BigEndian.Uint16(data[offset : offset+2]))
	if raw == -32768 {
		return 0, fmt.Errorf("agl: DEM tile %s has no data at (%.5f, %.5f)", tilePath, lat, lon)
	}
	meters := float64(raw)
	return int(math.Round(meters / 0.3048)), nil
}

// tileFileName follows the SRTM naming convention: N/S + 2-digit latitude,
// E/W + 3-digit longitude of the tile's southwest corner.
func tileFileName(lat, lon float64) string {
	swLat := int(math.Floor(lat))
	swLon := int(math.Floor(lon))

	latHemi := "N"
	latMag := swLat
	if swLat < 0 {
		latHemi = "S"
		latMag = -swLat
	}
	lonHemi := "E"
	lonMag := swLon
	if swLon < 0 {
		lonHemi = "W"
		lonMag = -swLon
	}
	return fmt.Sprintf("%s%02d%s%03d.hgt", latHemi, latMag, lonHemi, lonMag)
}

func sampleIndex(lat, lon float64) (row, col int) {
	fracLat := lat - math.Floor(lat)
	fracLon := lon - math.Floor(lon)
	// .hgt rows run north-to-south: row 0 is the tile's northern edge.
	row = int(math.Round((1 - fracLat) * float64(demSamplesPerSide-1)))
	col = int(math.Round(fracLon * float64(demSamplesPerSide-1)))
	if row < 0 {
		row = 0
	}
	if row >= demSamplesPerSide {
		row = demSamplesPerSide - 1
	}
	if col < 0 {
		col = 0
	}
	if col >= demSamplesPerSide {
		col = demSamplesPerSide - 1
	}
	return row, col
}
