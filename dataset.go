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
	"fmt"
	"math"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// TimePeriod is the canonical temporal granularity of a dataset.
type TimePeriod string

// Supported temporal granularities.
const (
	Hourly  TimePeriod = "1H"
	Daily   TimePeriod = "1D"
	Dekadal TimePeriod = "10D" // 10-day periods starting on days 1, 11, and 21
	Monthly TimePeriod = "1M"
)

func (p TimePeriod) valid() bool {
	switch p {
	case Hourly, Daily, Dekadal, Monthly:
		return true
	}
	return false
}

// Floor returns the latest period boundary that does not follow t.
func (p TimePeriod) Floor(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case Hourly:
		return t.Truncate(time.Hour)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Dekadal:
		day := 1
		if t.Day() >= 21 {
			day = 21
		} else if t.Day() >= 11 {
			day = 11
		}
		return time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the period boundary following boundary t.
func (p TimePeriod) Next(t time.Time) time.Time {
	switch p {
	case Hourly:
		return t.Add(time.Hour)
	case Daily:
		return t.AddDate(0, 0, 1)
	case Dekadal:
		if t.Day() >= 21 {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		}
		return time.Date(t.Year(), t.Month(), t.Day()+10, 0, 0, 0, 0, time.UTC)
	case Monthly:
		return t.AddDate(0, 1, 0)
	}
	return t
}

// GeoSubsetting declares whether a dataset supports geographic
// subsetting at the archive, or must always be retrieved at its full
// global extent and clipped afterwards.
type GeoSubsetting int

const (
	// GeoSubsetSupported means the archive accepts an area clause.
	GeoSubsetSupported GeoSubsetting = iota
	// GeoGlobalOnly means the archive rejects or ignores area clauses;
	// retrievals always cover the dataset's full extent and the
	// normalizer clips to the caller's bounding box.
	GeoGlobalOnly
)

// SplitPolicy declares how a logical request is split into archive
// sub-requests so that no single retrieval exceeds the archive's
// maximum request size. Splitting is always along the time axis.
type SplitPolicy int

const (
	// SplitNone issues a single archive request.
	SplitNone SplitPolicy = iota
	// SplitByYear issues one archive request per calendar year.
	SplitByYear
	// SplitByMonth issues one archive request per calendar month.
	SplitByMonth
)

// ProductType is one retrieval variant of a dataset (for example
// reanalysis vs. ensemble mean) sharing the same variable catalogue.
type ProductType struct {
	Code  string // archive-facing selector
	Label string // human-readable description
}

// Variable describes one retrievable variable of a dataset.
type Variable struct {
	// RequestName is the archive-facing selector string, also used as
	// the caller-facing variable identifier.
	RequestName string
	// ShortName is the variable name the archive uses in returned
	// NetCDF files. It may collide across datasets but not within one.
	ShortName string
	Units     string
	LongName  string
}

// DatasetDescriptor holds the static metadata for one retrievable
// dataset. Descriptors are loaded once at startup and never mutated.
type DatasetDescriptor struct {
	// Identifier is the stable key naming this dataset, unique across
	// the registry.
	Identifier string
	// Archive is the dataset name used when addressing the archive.
	// Empty means the same as Identifier.
	Archive     string
	Description string

	// ProductTypes lists the retrieval variants. Empty means the
	// dataset has a single implicit product type and the product_type
	// parameter is not recognized.
	ProductTypes []ProductType

	// CRS names the coordinate reference system; Proj4 is the
	// corresponding proj4 definition.
	CRS   string
	Proj4 string

	// Bounds is the global extent in W, S, E, N degrees.
	Bounds geom.Bounds
	// SpatialResolution is the cell size in degrees, or 0 if the grid
	// is irregular or archive-managed.
	SpatialResolution float64
	// LatAscending declares the latitude axis direction of normalized
	// cubes for this dataset.
	LatAscending bool
	// PointGrid marks grids registered on cell centers (ERA5). For
	// these the archive area clause is cropped by half a cell width so
	// the returned points span exactly the requested cell bounds.
	PointGrid bool

	// TimeStart is the first available instant; TimeEnd is the last,
	// with the zero value meaning the dataset extends to the present.
	TimeStart  time.Time
	TimeEnd    time.Time
	TimePeriod TimePeriod
	// Months restricts availability to the listed calendar months
	// (1-12). Empty means all months are available. Sea ice thickness,
	// for example, exists only for winter months.
	Months []int

	Variables []Variable

	GeoSubsetting GeoSubsetting
	Split         SplitPolicy

	// Format is the container format requested from the archive
	// ("netcdf" or "tgz").
	Format string
	// FixedParams are constant archive selectors sent with every
	// request for this dataset (satellite, version, cdr_type, ...).
	FixedParams map[string]string
}

// archiveName returns the dataset name used at the archive.
func (d *DatasetDescriptor) archiveName() string {
	if d.Archive != "" {
		return d.Archive
	}
	return d.Identifier
}

// Variable returns the variable with the given archive request name.
func (d *DatasetDescriptor) Variable(requestName string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.RequestName == requestName {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableByShortName returns the variable with the given archive
// output short name.
func (d *DatasetDescriptor) VariableByShortName(shortName string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.ShortName == shortName {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableNames returns the request names of all variables, in
// declaration order.
func (d *DatasetDescriptor) VariableNames() []string {
	names := make([]string, len(d.Variables))
	for i, v := range d.Variables {
		names[i] = v.RequestName
	}
	return names
}

// SR returns the spatial reference defined by the descriptor's proj4
// string.
func (d *DatasetDescriptor) SR() (*proj.SR, error) {
	sr, err := proj.Parse(d.Proj4)
	if err != nil {
		return nil, fmt.Errorf("cdscube: dataset %s: parsing CRS: %v", d.Identifier, err)
	}
	return sr, nil
}

// OpenEnded reports whether the dataset extends to the present.
func (d *DatasetDescriptor) OpenEnded() bool { return d.TimeEnd.IsZero() }

// timeEnd returns the effective end of the dataset's time range: the
// current time for open-ended datasets, otherwise the end of the
// declared end date (the declared end is a date, and the whole of that
// day is available).
func (d *DatasetDescriptor) timeEnd() time.Time {
	if d.OpenEnded() {
		return time.Now().UTC()
	}
	return d.TimeEnd.Add(24*time.Hour - time.Second)
}

// monthAvailable reports whether the dataset has data for calendar
// month m.
func (d *DatasetDescriptor) monthAvailable(m time.Month) bool {
	if len(d.Months) == 0 {
		return true
	}
	for _, mm := range d.Months {
		if time.Month(mm) == m {
			return true
		}
	}
	return false
}

// check validates the descriptor invariants.
func (d *DatasetDescriptor) check() error {
	if d.Identifier == "" {
		return fmt.Errorf("cdscube: dataset descriptor missing identifier")
	}
	if len(d.Variables) == 0 {
		return fmt.Errorf("cdscube: dataset %s: no variables declared", d.Identifier)
	}
	if !d.TimePeriod.valid() {
		return fmt.Errorf("cdscube: dataset %s: invalid time period %q", d.Identifier, d.TimePeriod)
	}
	if d.TimeStart.IsZero() {
		return fmt.Errorf("cdscube: dataset %s: missing time range start", d.Identifier)
	}
	if !d.TimeEnd.IsZero() && d.TimeEnd.Before(d.TimeStart) {
		return fmt.Errorf("cdscube: dataset %s: time range end precedes start", d.Identifier)
	}
	if d.Bounds.Max.X <= d.Bounds.Min.X || d.Bounds.Max.Y <= d.Bounds.Min.Y {
		return fmt.Errorf("cdscube: dataset %s: empty bounds", d.Identifier)
	}
	if d.SpatialResolution > 0 {
		// The extent must hold a whole number of cells.
		for _, span := range []float64{
			d.Bounds.Max.X - d.Bounds.Min.X,
			d.Bounds.Max.Y - d.Bounds.Min.Y,
		} {
			cells := span / d.SpatialResolution
			if math.Abs(cells-math.Floor(cells+0.5)) > 1e-6 {
				return fmt.Errorf("cdscube: dataset %s: extent is not a whole number of %g° cells",
					d.Identifier, d.SpatialResolution)
			}
		}
	}
	seenReq := make(map[string]bool)
	seenShort := make(map[string]bool)
	for _, v := range d.Variables {
		if v.RequestName == "" || v.ShortName == "" {
			return fmt.Errorf("cdscube: dataset %s: variable with empty name", d.Identifier)
		}
		if seenReq[v.RequestName] {
			return fmt.Errorf("cdscube: dataset %s: duplicate variable %q", d.Identifier, v.RequestName)
		}
		if seenShort[v.ShortName] {
			return fmt.Errorf("cdscube: dataset %s: duplicate variable short name %q", d.Identifier, v.ShortName)
		}
		seenReq[v.RequestName] = true
		seenShort[v.ShortName] = true
	}
	seenPT := make(map[string]bool)
	for _, pt := range d.ProductTypes {
		if pt.Code == "" {
			return fmt.Errorf("cdscube: dataset %s: product type with empty code", d.Identifier)
		}
		if seenPT[pt.Code] {
			return fmt.Errorf("cdscube: dataset %s: duplicate product type %q", d.Identifier, pt.Code)
		}
		seenPT[pt.Code] = true
	}
	for _, m := range d.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("cdscube: dataset %s: invalid month %d", d.Identifier, m)
		}
	}
	return nil
}
