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
	"encoding/json"
	"fmt"
	"time"
)

// ArchiveRequest is one archive-specific retrieval request. A logical
// OpenRequest may translate into several ArchiveRequests when the
// archive's maximum request size would otherwise be exceeded; Start and
// End record the chronological slice each sub-request covers so that
// responses can be reassembled deterministically regardless of fetch
// completion order.
type ArchiveRequest struct {
	// Dataset is the archive's dataset name (not necessarily the
	// registry identifier).
	Dataset string
	// Start and End are the inclusive time range covered by this
	// sub-request.
	Start time.Time
	End   time.Time

	params map[string]interface{}
}

// Body returns the request payload as JSON. Identical OpenRequests
// always produce byte-identical bodies: map keys marshal in sorted
// order and all selector lists are built in ascending order.
func (r *ArchiveRequest) Body() ([]byte, error) {
	b, err := json.Marshal(r.params)
	if err != nil {
		return nil, fmt.Errorf("cdscube: marshaling request for %s: %v", r.Dataset, err)
	}
	return b, nil
}

// Param returns the value of one request parameter, or nil if unset.
func (r *ArchiveRequest) Param(key string) interface{} { return r.params[key] }

// String identifies the request; it is stable across processes and
// usable as a cache key.
func (r *ArchiveRequest) String() string {
	b, err := r.Body()
	if err != nil {
		return fmt.Sprintf("%s %v %v", r.Dataset, r.Start, r.End)
	}
	return fmt.Sprintf("%s %s", r.Dataset, b)
}

// Translate validates req against the dataset's parameter schema and
// synthesizes the archive request(s) for it. It is a pure function: no
// network access, and identical inputs yield identical outputs. The
// returned requests are in chronological order and cover every
// requested timestamp exactly once.
func Translate(registry *Registry, identifier string, req *OpenRequest) ([]*ArchiveRequest, error) {
	schema, err := BuildSchema(registry, identifier)
	if err != nil {
		return nil, err
	}
	r, err := schema.resolve(req)
	if err != nil {
		return nil, err
	}
	if len(r.variables) == 0 {
		return nil, InvalidParameterError{
			Dataset: identifier, Parameter: "variables",
			Reason: "at least one variable must be requested",
		}
	}
	desc := r.desc

	base := make(map[string]interface{})
	names := make([]string, len(r.variables))
	for i, v := range r.variables {
		names[i] = v.RequestName
	}
	base["variable"] = names
	if r.productType != "" {
		base["product_type"] = r.productType
	}
	if desc.GeoSubsetting == GeoSubsetSupported {
		// The archive expects N, W, S, E. Point-registered grids
		// (ERA5) deliver points rather than cells, so the area is
		// cropped by half a cell width on each edge to make the
		// returned points span exactly the requested cell bounds.
		crop := 0.0
		if desc.PointGrid {
			crop = desc.SpatialResolution / 2
		}
		base["area"] = []float64{
			r.bounds.Max.Y - crop,
			r.bounds.Min.X + crop,
			r.bounds.Min.Y + crop,
			r.bounds.Max.X - crop,
		}
	}
	format := desc.Format
	if format == "" {
		format = "netcdf"
	}
	base["format"] = format
	for k, v := range desc.FixedParams {
		base[k] = v
	}

	var out []*ArchiveRequest
	for _, sub := range splitRange(desc, r.start, r.end) {
		params := make(map[string]interface{}, len(base)+4)
		for k, v := range base {
			params[k] = v
		}
		for k, v := range timeSelectors(desc, sub[0], sub[1]) {
			params[k] = v
		}
		out = append(out, &ArchiveRequest{
			Dataset: desc.archiveName(),
			Start:   sub[0],
			End:     sub[1],
			params:  unwrapSingletons(params),
		})
	}
	return out, nil
}

// splitRange partitions the inclusive range [start, end] along the time
// axis according to the dataset's split policy. Every requested
// timestamp appears in exactly one sub-range, and sub-ranges with no
// available timestamps (restricted months) are dropped.
func splitRange(desc *DatasetDescriptor, start, end time.Time) [][2]time.Time {
	var boundary func(t time.Time) time.Time // start of the next split unit
	switch desc.Split {
	case SplitByYear:
		boundary = func(t time.Time) time.Time {
			return time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
	case SplitByMonth:
		boundary = func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		}
	default:
		if len(expectedTimes(desc, start, end)) == 0 {
			return nil
		}
		return [][2]time.Time{{start, end}}
	}
	var out [][2]time.Time
	for s := start; !s.After(end); {
		next := boundary(s)
		e := next.Add(-time.Second)
		if e.After(end) {
			e = end
		}
		if len(expectedTimes(desc, s, e)) > 0 {
			out = append(out, [2]time.Time{s, e})
		}
		s = next
	}
	return out
}

// timeSelectors converts the inclusive range [t0, t1] into the
// orthogonal year/month/day/hour selector lists the archive expects.
// The selection is the narrowest orthogonal superset covering the whole
// range, so boundary values are never dropped, although the archive may
// return more than was asked for (the normalizer trims the excess).
func timeSelectors(desc *DatasetDescriptor, t0, t1 time.Time) map[string]interface{} {
	sel := make(map[string]interface{})

	years := make([]string, 0, t1.Year()-t0.Year()+1)
	for y := t0.Year(); y <= t1.Year(); y++ {
		years = append(years, fmt.Sprintf("%04d", y))
	}
	sel["year"] = years

	// Enumerate distinct calendar months intersecting the range. A
	// whole year of coverage selects all twelve.
	var months []string
	m0 := time.Date(t0.Year(), t0.Month(), 1, 0, 0, 0, 0, time.UTC)
	m1 := time.Date(t1.Year(), t1.Month(), 1, 0, 0, 0, 0, time.UTC)
	if limit := m0.AddDate(1, 0, 0); m1.After(limit) {
		m1 = limit
	}
	seenMonth := make(map[time.Month]bool)
	for m := m0; !m.After(m1); m = m.AddDate(0, 1, 0) {
		seenMonth[m.Month()] = true
	}
	for m := time.January; m <= time.December; m++ {
		if seenMonth[m] && desc.monthAvailable(m) {
			months = append(months, fmt.Sprintf("%02d", m))
		}
	}
	sel["month"] = months

	switch desc.TimePeriod {
	case Dekadal:
		sel["day"] = []string{"01", "11", "21"}
	case Hourly, Daily:
		// 100 days guarantees a 31-day month is covered if the range
		// contains one.
		var days []string
		d0 := time.Date(t0.Year(), t0.Month(), t0.Day(), 0, 0, 0, 0, time.UTC)
		d1 := time.Date(t1.Year(), t1.Month(), t1.Day(), 0, 0, 0, 0, time.UTC)
		if limit := d0.AddDate(0, 0, 100); d1.After(limit) {
			d1 = limit
		}
		seenDay := make(map[int]bool)
		for d := d0; !d.After(d1); d = d.AddDate(0, 0, 1) {
			seenDay[d.Day()] = true
		}
		for d := 1; d <= 31; d++ {
			if seenDay[d] {
				days = append(days, fmt.Sprintf("%02d", d))
			}
		}
		sel["day"] = days
	}

	if desc.TimePeriod == Hourly {
		var hours []string
		h0 := t0.Truncate(time.Hour)
		h1 := t1.Truncate(time.Hour)
		if limit := h0.Add(24 * time.Hour); h1.After(limit) {
			h1 = limit
		}
		seenHour := make(map[int]bool)
		for h := h0; !h.After(h1); h = h.Add(time.Hour) {
			seenHour[h.Hour()] = true
		}
		for h := 0; h < 24; h++ {
			if seenHour[h] {
				hours = append(hours, fmt.Sprintf("%02d:00", h))
			}
		}
		sel["time"] = hours
	}
	return sel
}

// unwrapSingletons replaces single-element selector lists with their
// bare value, as the archive API expects.
func unwrapSingletons(params map[string]interface{}) map[string]interface{} {
	for k, v := range params {
		if list, ok := v.([]string); ok && len(list) == 1 {
			params[k] = list[0]
		}
	}
	return params
}
