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
	"io/ioutil"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// gridFile is the decoded content of one NetCDF member file: the
// coordinate axes plus each data variable as a [time, lat, lon] array,
// keyed by the archive's variable short name.
type gridFile struct {
	times []time.Time
	lat   []float64
	lon   []float64
	vars  map[string]*sparse.DenseArray
}

// canonicalAxis maps an archive coordinate name to the canonical axis
// label, or "" if the name is not a recognized coordinate. The archive
// backend has renamed the time coordinate before (valid_time, date), so
// all known aliases are accepted.
func canonicalAxis(name string) string {
	switch name {
	case "lat", "latitude":
		return "lat"
	case "lon", "longitude":
		return "lon"
	case "time", "valid_time", "date":
		return "time"
	}
	return ""
}

// ancillaryVariables are non-data variables that may accompany the
// coordinates in archive files and carry no gridded data of their own.
var ancillaryVariables = map[string]bool{
	"time_bnds":              true,
	"nv":                     true,
	"number":                 true,
	"expver":                 true,
	"crs":                    true,
	"Lambert_Azimuthal_Grid": true,
}

// decodeNetCDF decodes a single NetCDF member file, dispatching on the
// format signature.
func decodeNetCDF(dataset string, b []byte) (*gridFile, error) {
	switch sniffPayload(b) {
	case payloadNetCDFClassic:
		return decodeClassic(dataset, b)
	case payloadNetCDF4:
		return decodeNetCDF4(dataset, b)
	}
	return nil, MalformedPayloadError{Dataset: dataset, Reason: "member is not a NetCDF file"}
}

// decodeClassic decodes a classic-format (CDF-1/CDF-2) NetCDF file in
// memory.
func decodeClassic(dataset string, b []byte) (*gridFile, error) {
	f, err := cdf.Open(newMemFile(b))
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading NetCDF header: %v", err)}
	}
	g := &gridFile{vars: make(map[string]*sparse.DenseArray)}
	var timeVals []float64
	var timeUnits string

	// First pass: coordinate variables.
	for _, name := range f.Header.Variables() {
		axis := canonicalAxis(name)
		if axis == "" || len(f.Header.Lengths(name)) != 1 {
			continue
		}
		vals, err := readClassicVector(f, name)
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading coordinate %s: %v", name, err)}
		}
		switch axis {
		case "lat":
			g.lat = vals
		case "lon":
			g.lon = vals
		case "time":
			timeVals = vals
			if u, ok := f.Header.GetAttribute(name, "units").(string); ok {
				timeUnits = u
			}
		}
	}
	if g.lat == nil || g.lon == nil || timeVals == nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: "file lacks time, latitude, or longitude coordinates"}
	}
	g.times, err = decodeTimeCoordinate(timeUnits, timeVals)
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: err.Error()}
	}

	// Second pass: data variables on the (time, lat, lon) grid.
	for _, name := range f.Header.Variables() {
		if canonicalAxis(name) != "" || ancillaryVariables[name] {
			continue
		}
		dims := f.Header.Dimensions(name)
		if !isGridDims(dims) {
			continue
		}
		lengths := f.Header.Lengths(name)
		n := 1
		for _, l := range lengths {
			if l == 0 {
				return nil, MalformedPayloadError{Dataset: dataset,
					Reason: fmt.Sprintf("variable %s has an unbounded dimension", name)}
			}
			n *= l
		}
		r := f.Reader(name, nil, nil)
		buf := r.Zero(n)
		if _, err := r.Read(buf); err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading variable %s: %v", name, err)}
		}
		data := sparse.ZerosDense(lengths...)
		if err := fillElements(data.Elements, buf); err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("variable %s: %v", name, err)}
		}
		applyPacking(data.Elements,
			attrFloat(f.Header, name, "scale_factor"),
			attrFloat(f.Header, name, "add_offset"),
			attrFloat(f.Header, name, "_FillValue"),
			attrFloat(f.Header, name, "missing_value"))
		g.vars[name] = data
	}
	return g, nil
}

// decodeNetCDF4 decodes an HDF5-backed NetCDF-4 file, the format the
// archive backend introduced in 2024. The pure-Go reader works on
// files, so the payload takes a detour through a temporary file.
func decodeNetCDF4(dataset string, b []byte) (*gridFile, error) {
	tmp, err := ioutil.TempFile("", "cdscube-*.nc")
	if err != nil {
		return nil, fmt.Errorf("cdscube: creating temporary file: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("cdscube: writing temporary file: %v", err)
	}
	tmp.Close()

	nc, err := netcdf.Open(tmp.Name())
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading NetCDF-4 file: %v", err)}
	}
	defer nc.Close()

	g := &gridFile{vars: make(map[string]*sparse.DenseArray)}
	var timeVals []float64
	var timeUnits string
	for _, name := range nc.ListVariables() {
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading variable %s: %v", name, err)}
		}
		axis := canonicalAxis(name)
		if axis != "" && len(v.Dimensions) == 1 {
			shape, vals, err := flattenValues(v.Values)
			if err != nil || len(shape) != 1 {
				return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("coordinate %s: unexpected layout", name)}
			}
			switch axis {
			case "lat":
				g.lat = vals
			case "lon":
				g.lon = vals
			case "time":
				timeVals = vals
				if u, ok := v.Attributes.Get("units"); ok {
					if s, ok := u.(string); ok {
						timeUnits = s
					}
				}
			}
			continue
		}
		if axis != "" || ancillaryVariables[name] || !isGridDims(v.Dimensions) {
			continue
		}
		shape, vals, err := flattenValues(v.Values)
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("variable %s: %v", name, err)}
		}
		data := sparse.ZerosDense(shape...)
		copy(data.Elements, vals)
		var scale, offset, fill, missing *float64
		if a, ok := v.Attributes.Get("scale_factor"); ok {
			scale = attrValFloat(a)
		}
		if a, ok := v.Attributes.Get("add_offset"); ok {
			offset = attrValFloat(a)
		}
		if a, ok := v.Attributes.Get("_FillValue"); ok {
			fill = attrValFloat(a)
		}
		if a, ok := v.Attributes.Get("missing_value"); ok {
			missing = attrValFloat(a)
		}
		applyPacking(data.Elements, scale, offset, fill, missing)
		g.vars[name] = data
	}
	if g.lat == nil || g.lon == nil || timeVals == nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: "file lacks time, latitude, or longitude coordinates"}
	}
	g.times, err = decodeTimeCoordinate(timeUnits, timeVals)
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: err.Error()}
	}
	return g, nil
}

// isGridDims reports whether dims name a (time, lat, lon) grid in
// canonical order, in any of the archive's naming conventions.
func isGridDims(dims []string) bool {
	if len(dims) != 3 {
		return false
	}
	return canonicalAxis(dims[0]) == "time" &&
		canonicalAxis(dims[1]) == "lat" &&
		canonicalAxis(dims[2]) == "lon"
}

// readClassicVector reads a 1-D variable as float64.
func readClassicVector(f *cdf.File, name string) ([]float64, error) {
	lengths := f.Header.Lengths(name)
	if len(lengths) != 1 || lengths[0] == 0 {
		return nil, fmt.Errorf("not a fixed-length vector")
	}
	r := f.Reader(name, nil, nil)
	buf := r.Zero(lengths[0])
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	out := make([]float64, lengths[0])
	if err := fillElements(out, buf); err != nil {
		return nil, err
	}
	return out, nil
}

// fillElements converts a typed buffer read from a NetCDF file into
// dst.
func fillElements(dst []float64, buf interface{}) error {
	switch vals := buf.(type) {
	case []float64:
		copy(dst, vals)
	case []float32:
		for i, v := range vals {
			dst[i] = float64(v)
		}
	case []int32:
		for i, v := range vals {
			dst[i] = float64(v)
		}
	case []int16:
		for i, v := range vals {
			dst[i] = float64(v)
		}
	case []int8:
		for i, v := range vals {
			dst[i] = float64(v)
		}
	default:
		return fmt.Errorf("unsupported data type %T", buf)
	}
	return nil
}

// flattenValues converts the nested slices returned by the NetCDF-4
// reader into a shape and a flat float64 slice.
func flattenValues(values interface{}) ([]int, []float64, error) {
	var shape []int
	v := reflect.ValueOf(values)
	for v.Kind() == reflect.Slice {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			return nil, nil, fmt.Errorf("empty dimension")
		}
		v = v.Index(0)
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, nil, fmt.Errorf("unsupported data type %T", values)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float64, 0, n)
	var walk func(v reflect.Value, depth int)
	walk = func(v reflect.Value, depth int) {
		if depth == len(shape) {
			switch v.Kind() {
			case reflect.Float32, reflect.Float64:
				data = append(data, v.Float())
			default:
				data = append(data, float64(v.Int()))
			}
			return
		}
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), depth+1)
		}
	}
	walk(reflect.ValueOf(values), 0)
	return shape, data, nil
}

// attrFloat reads a numeric attribute from a classic-format header.
func attrFloat(h *cdf.Header, v, attr string) *float64 {
	return attrValFloat(h.GetAttribute(v, attr))
}

func attrValFloat(a interface{}) *float64 {
	var f float64
	switch vals := a.(type) {
	case nil:
		return nil
	case []float64:
		if len(vals) == 0 {
			return nil
		}
		f = vals[0]
	case []float32:
		if len(vals) == 0 {
			return nil
		}
		f = float64(vals[0])
	case []int32:
		if len(vals) == 0 {
			return nil
		}
		f = float64(vals[0])
	case []int16:
		if len(vals) == 0 {
			return nil
		}
		f = float64(vals[0])
	case float64:
		f = vals
	case float32:
		f = float64(vals)
	case int32:
		f = float64(vals)
	case int16:
		f = float64(vals)
	default:
		return nil
	}
	return &f
}

// applyPacking unpacks scaled-and-offset integer encodings and replaces
// fill values with NaN. Fill comparison happens before unpacking, on
// the stored values.
func applyPacking(elements []float64, scale, offset, fill, missing *float64) {
	if scale == nil && offset == nil && fill == nil && missing == nil {
		return
	}
	s, o := 1.0, 0.0
	if scale != nil {
		s = *scale
	}
	if offset != nil {
		o = *offset
	}
	for i, v := range elements {
		if (fill != nil && v == *fill) || (missing != nil && v == *missing) {
			elements[i] = math.NaN()
			continue
		}
		elements[i] = v*s + o
	}
}

// decodeTimeCoordinate converts raw time coordinate values to instants
// using a CF-style units attribute ("<unit> since <epoch>").
func decodeTimeCoordinate(units string, vals []float64) ([]time.Time, error) {
	epoch, step, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(vals))
	for i, v := range vals {
		times[i] = epoch.Add(time.Duration(v * float64(step))).UTC()
	}
	return times, nil
}

var timeEpochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.0",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

// parseTimeUnits parses a CF time units string such as
// "hours since 1900-01-01 00:00:0.0" or "seconds since 1970-01-01".
func parseTimeUnits(units string) (time.Time, time.Duration, error) {
	parts := strings.SplitN(units, " since ", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("cannot parse time units %q", units)
	}
	var step time.Duration
	switch strings.TrimSpace(parts[0]) {
	case "seconds":
		step = time.Second
	case "minutes":
		step = time.Minute
	case "hours":
		step = time.Hour
	case "days":
		step = 24 * time.Hour
	default:
		return time.Time{}, 0, fmt.Errorf("unsupported time unit in %q", units)
	}
	ref := strings.TrimSpace(parts[1])
	// ERA5 writes single-digit seconds ("1900-01-01 00:00:0.0").
	ref = strings.Replace(ref, ":0.0", ":00.0", 1)
	for _, layout := range timeEpochLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return t.UTC(), step, nil
		}
	}
	return time.Time{}, 0, fmt.Errorf("cannot parse time epoch in %q", units)
}
