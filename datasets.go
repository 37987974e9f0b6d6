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

package cdscube

import (
	"time"

	"github.com/ctessum/geom"
)

// The variable tables below map archive request parameter names to the
// variable names found in returned NetCDF files. They were collated by
// requesting each parameter individually and reading the name, units,
// and long_name attributes of the single resulting output variable, so
// the mapping reflects what the archive actually returns rather than
// what its documentation claims.

const wgs84Longlat = "+proj=longlat +datum=WGS84 +no_defs"

var era5SingleLevelVariables = []Variable{
	{"10m_u_component_of_wind", "u10", "m s**-1", "10 metre U wind component"},
	{"10m_v_component_of_wind", "v10", "m s**-1", "10 metre V wind component"},
	{"2m_dewpoint_temperature", "d2m", "K", "2 metre dewpoint temperature"},
	{"2m_temperature", "t2m", "K", "2 metre temperature"},
	{"mean_sea_level_pressure", "msl", "Pa", "Mean sea level pressure"},
	{"sea_surface_temperature", "sst", "K", "Sea surface temperature"},
	{"snowfall", "sf", "m of water equivalent", "Snowfall"},
	{"surface_pressure", "sp", "Pa", "Surface pressure"},
	{"total_cloud_cover", "tcc", "(0 - 1)", "Total cloud cover"},
	{"total_precipitation", "tp", "m", "Total precipitation"},
}

var era5LandVariables = []Variable{
	{"2m_temperature", "t2m", "K", "2 metre temperature"},
	{"skin_temperature", "skt", "K", "Skin temperature"},
	{"snow_depth", "sde", "m", "Snow depth"},
	{"soil_temperature_level_1", "stl1", "K", "Soil temperature level 1"},
	{"total_precipitation", "tp", "m", "Total precipitation"},
	{"volumetric_soil_water_layer_1", "swvl1", "m**3 m**-3", "Volumetric soil water layer 1"},
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

var globalBounds = geom.Bounds{
	Min: geom.Point{X: -180, Y: -90},
	Max: geom.Point{X: 180, Y: 90},
}

// defaultDatasets returns the built-in dataset descriptor table.
func defaultDatasets() []*DatasetDescriptor {
	return []*DatasetDescriptor{
		{
			Identifier:  "reanalysis-era5-single-levels",
			Description: "ERA5 hourly data on single levels from 1979 to present",
			ProductTypes: []ProductType{
				{"reanalysis", "Reanalysis"},
				{"ensemble_mean", "Ensemble mean"},
				{"ensemble_members", "Ensemble members"},
				{"ensemble_spread", "Ensemble spread"},
			},
			CRS:               "WGS84",
			Proj4:             wgs84Longlat,
			Bounds:            globalBounds,
			SpatialResolution: 0.25,
			PointGrid:         true,
			TimeStart:         date(1979, time.January, 1),
			TimePeriod:        Hourly,
			Variables:         era5SingleLevelVariables,
			GeoSubsetting:     GeoSubsetSupported,
			Split:             SplitByYear,
			Format:            "netcdf",
		},
		{
			Identifier:  "reanalysis-era5-single-levels-monthly-means",
			Description: "ERA5 monthly averaged data on single levels from 1979 to present",
			ProductTypes: []ProductType{
				{"monthly_averaged_reanalysis", "Monthly averaged reanalysis"},
				{"monthly_averaged_ensemble_members", "Monthly averaged ensemble members"},
			},
			CRS:               "WGS84",
			Proj4:             wgs84Longlat,
			Bounds:            globalBounds,
			SpatialResolution: 0.25,
			PointGrid:         true,
			TimeStart:         date(1979, time.January, 1),
			TimePeriod:        Monthly,
			Variables:         era5SingleLevelVariables,
			GeoSubsetting:     GeoSubsetSupported,
			Split:             SplitNone,
			Format:            "netcdf",
		},
		{
			Identifier:        "reanalysis-era5-land",
			Description:       "ERA5-Land hourly data from 1981 to present",
			CRS:               "WGS84",
			Proj4:             wgs84Longlat,
			Bounds:            globalBounds,
			SpatialResolution: 0.1,
			PointGrid:         true,
			TimeStart:         date(1981, time.January, 1),
			TimePeriod:        Hourly,
			Variables:         era5LandVariables,
			GeoSubsetting:     GeoSubsetSupported,
			Split:             SplitByYear,
			Format:            "netcdf",
		},
		{
			Identifier:  "reanalysis-era5-land-monthly-means",
			Description: "ERA5-Land monthly averaged data from 1981 to present",
			ProductTypes: []ProductType{
				{"monthly_averaged_reanalysis", "Monthly averaged reanalysis"},
			},
			CRS:               "WGS84",
			Proj4:             wgs84Longlat,
			Bounds:            globalBounds,
			SpatialResolution: 0.1,
			PointGrid:         true,
			TimeStart:         date(1981, time.January, 1),
			TimePeriod:        Monthly,
			Variables:         era5LandVariables,
			GeoSubsetting:     GeoSubsetSupported,
			Split:             SplitNone,
			Format:            "netcdf",
		},
		{
			Identifier:  "satellite-soil-moisture",
			Description: "Soil moisture gridded data from 1978 to present",
			CRS:         "WGS84",
			Proj4:       wgs84Longlat,
			// The soil moisture retrieval ignores area clauses;
			// every request returns the full global grid.
			Bounds:            globalBounds,
			SpatialResolution: 0.25,
			TimeStart:         date(1978, time.November, 1),
			TimePeriod:        Daily,
			Variables: []Variable{
				{"volumetric_surface_soil_moisture", "sm", "m3 m-3", "Volumetric Soil Moisture"},
				{"number_of_observations", "nobs", "1", "Number of valid observations"},
				{"sensor_flag", "sensor", "1", "Sensor"},
			},
			GeoSubsetting: GeoGlobalOnly,
			Split:         SplitByMonth,
			Format:        "tgz",
			FixedParams: map[string]string{
				"type_of_sensor":   "combined_passive_and_active",
				"time_aggregation": "day_average",
				"type_of_record":   "cdr",
				"version":          "v201912.0.0",
			},
		},
		{
			Identifier:  "satellite-sea-ice-thickness",
			Description: "Sea ice thickness monthly gridded data (CryoSat-2)",
			CRS:         "EPSG:6931",
			Proj4:       "+proj=laea +lat_0=90 +lon_0=0 +datum=WGS84 +ellps=WGS84",
			Bounds: geom.Bounds{
				Min: geom.Point{X: -180, Y: 16.6239},
				Max: geom.Point{X: 180, Y: 90},
			},
			// The 25 km EASE2 grid is archive-managed, not a regular
			// lat-lon raster.
			SpatialResolution: 0,
			LatAscending:      true,
			TimeStart:         date(2010, time.November, 1),
			TimePeriod:        Monthly,
			// Only winter months exist; the archive rejects requests
			// for May through September.
			Months: []int{1, 2, 3, 4, 10, 11, 12},
			Variables: []Variable{
				{"sea_ice_thickness", "sea_ice_thickness", "m", "Sea Ice Thickness"},
				{"uncertainty", "uncertainty", "m", "Sea Ice Thickness Uncertainty"},
				{"quality_flag", "quality_flag", "1", "Sea Ice Thickness Quality Flag"},
				{"status_flag", "status_flag", "1", "Sea Ice Thickness Status Flag"},
			},
			GeoSubsetting: GeoGlobalOnly,
			Split:         SplitNone,
			Format:        "tgz",
			FixedParams: map[string]string{
				"satellite": "cryosat_2",
				"cdr_type":  "cdr",
				"version":   "2_0",
			},
		},
	}
}

// DefaultRegistry returns a registry containing the built-in dataset
// descriptors.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultDatasets()...)
	if err != nil {
		panic(err)
	}
	return r
}
