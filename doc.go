/*
Copyright © 2024 the CDSCube authors.
This file is part of CDSCube.

CDSCube is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CDSCube is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CDSCube.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cdscube opens geospatial time-series datasets from the
// Copernicus Climate Data Store (CDS) and returns them as normalized,
// axis-labeled data cubes.
//
// The package translates generic open parameters (variables, bounding
// box, time range, product type) into the dataset-specific request
// vocabulary the CDS retrieval API requires, hands the synthesized
// requests to a Fetcher, and reshapes the heterogeneous files the
// archive returns (single NetCDF, ZIP or tar.gz archives of NetCDF
// parts) into cubes with a single coordinate convention: axes named
// time, lat, and lon, a strictly increasing time coordinate, and
// latitude direction and bounding box semantics matching the dataset's
// registry entry and the caller's request.
//
// The usual entry point is Store:
//
//	reg := cdscube.DefaultRegistry()
//	store := cdscube.NewStore(reg, fetcher)
//	cube, err := store.Open(ctx, "reanalysis-era5-single-levels", map[string]interface{}{
//		"variables":  []string{"2m_temperature"},
//		"bbox":       []float64{10, 10, 20, 20},
//		"time_range": []string{"2015-01-01", "2015-01-02"},
//	})
//
// A Fetcher implementation for the live CDS service, including
// credential handling, job polling, and download caching, is in the
// cdsapi subpackage.
package cdscube
