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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// coordTolerance is the maximum difference, in degrees, between
// coordinate values that are considered the same grid point when
// merging payload files.
const coordTolerance = 1e-6

// Normalize reshapes the raw payloads returned for req into a
// normalized cube: one payload per ArchiveRequest produced by
// Translate, in the same chronological order. It unpacks containers,
// maps archive variable short names back to caller-facing identifiers,
// merges sub-request results along the time axis, reorients the spatial
// axes to the registry-declared convention, clips to the caller's
// bounding box, and validates the result. Normalizing the same payload
// set twice yields identical cubes.
func Normalize(registry *Registry, identifier string, req *OpenRequest, payloads [][]byte) (*Cube, error) {
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

	subs := splitRange(desc, r.start, r.end)
	if len(payloads) < len(subs) {
		return nil, IncompleteResponseError{Dataset: identifier, Missing: subs[len(payloads)][0]}
	}
	if len(payloads) > len(subs) {
		return nil, MalformedPayloadError{
			Dataset: identifier,
			Reason:  fmt.Sprintf("%d payloads for %d sub-requests", len(payloads), len(subs)),
		}
	}

	expected := expectedTimes(desc, r.start, r.end)
	timeIndex := make(map[int64]int, len(expected))
	for i, t := range expected {
		timeIndex[t.Unix()] = i
	}

	m := &merger{
		desc:      desc,
		nt:        len(expected),
		timeIndex: timeIndex,
	}
	for _, payload := range payloads {
		members, err := unpackPayload(identifier, payload)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			g, err := decodeNetCDF(identifier, member)
			if err != nil {
				return nil, err
			}
			if err := m.add(g); err != nil {
				return nil, err
			}
		}
	}

	vars := make([]*CubeVariable, len(r.variables))
	for i, v := range r.variables {
		arr, ok := m.merged[v.ShortName]
		if !ok {
			return nil, MalformedPayloadError{
				Dataset: identifier,
				Reason:  fmt.Sprintf("response contains no data for variable %q", v.RequestName),
			}
		}
		for ti, filled := range m.filled[v.ShortName] {
			if !filled {
				return nil, IncompleteResponseError{Dataset: identifier, Missing: expected[ti]}
			}
		}
		vars[i] = &CubeVariable{
			Name:     v.RequestName,
			Units:    v.Units,
			LongName: v.LongName,
			Data:     arr,
		}
	}

	lat, lon := m.lat, m.lon
	// Latitude direction per the registry convention.
	if len(lat) > 1 && (lat[1] > lat[0]) != desc.LatAscending {
		lat = reverseCoords(lat)
		for _, v := range vars {
			v.Data = reverseAxis1(v.Data)
		}
	}
	// Longitudes in [-180, 180), ascending. Archives using a 0-360
	// convention get their arrays rotated to match.
	if needsLonNormalization(lon) {
		var perm []int
		lon, perm = normalizeLons(lon)
		for _, v := range vars {
			v.Data = permuteAxis2(v.Data, perm)
		}
	}
	// Clip to the caller's bounding box. Globally-retrieved datasets
	// always come back with the full extent; area-subset retrievals
	// may still be a cell wider than requested.
	y0, y1 := clipRange(lat, r.bounds.Min.Y, r.bounds.Max.Y, desc.SpatialResolution)
	x0, x1 := clipRange(lon, r.bounds.Min.X, r.bounds.Max.X, desc.SpatialResolution)
	if y1-y0 < len(lat) || x1-x0 < len(lon) {
		lat = lat[y0:y1]
		lon = lon[x0:x1]
		for _, v := range vars {
			v.Data = subsetSpatial(v.Data, y0, y1, x0, x1)
		}
	}

	meta := CubeMeta{
		Identifier:   identifier,
		CRS:          desc.CRS,
		Bounds:       r.bounds,
		TimePeriod:   desc.TimePeriod,
		ProductType:  r.productType,
		LatAscending: desc.LatAscending,
	}
	if len(desc.ProductTypes) == 0 {
		meta.ProductType = ""
	}
	return Assemble(meta, expected, lat, lon, vars)
}

// merger accumulates decoded member files into per-variable arrays
// indexed by expected timestamp.
type merger struct {
	desc      *DatasetDescriptor
	nt        int
	timeIndex map[int64]int

	lat, lon []float64
	merged   map[string]*sparse.DenseArray // short name -> [nt, nlat, nlon]
	filled   map[string][]bool
}

func (m *merger) add(g *gridFile) error {
	if m.lat == nil {
		m.lat = g.lat
		m.lon = g.lon
		m.merged = make(map[string]*sparse.DenseArray)
		m.filled = make(map[string][]bool)
	} else if !coordsEqual(m.lat, g.lat) || !coordsEqual(m.lon, g.lon) {
		return MalformedPayloadError{
			Dataset: m.desc.Identifier,
			Reason:  "payload files are on inconsistent spatial grids",
		}
	}
	rowLen := len(m.lat) * len(m.lon)
	for short, data := range g.vars {
		if _, ok := m.desc.VariableByShortName(short); !ok {
			return UnexpectedVariableError{Dataset: m.desc.Identifier, ShortName: short}
		}
		if data.Shape[1] != len(m.lat) || data.Shape[2] != len(m.lon) {
			return MalformedPayloadError{
				Dataset: m.desc.Identifier,
				Reason:  fmt.Sprintf("variable %s shape %v does not match its coordinates", short, data.Shape),
			}
		}
		dst, ok := m.merged[short]
		if !ok {
			dst = sparse.ZerosDense(m.nt, len(m.lat), len(m.lon))
			m.merged[short] = dst
			m.filled[short] = make([]bool, m.nt)
		}
		for ti := 0; ti < data.Shape[0]; ti++ {
			idx, ok := m.timeIndex[g.times[ti].Unix()]
			if !ok {
				// The orthogonal time selection over-fetches;
				// timestamps outside the requested range are trimmed.
				continue
			}
			copy(dst.Elements[idx*rowLen:(idx+1)*rowLen],
				data.Elements[ti*rowLen:(ti+1)*rowLen])
			m.filled[short][idx] = true
		}
	}
	return nil
}

func coordsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > coordTolerance {
			return false
		}
	}
	return true
}

func reverseCoords(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[len(v)-1-i] = x
	}
	return out
}

// reverseAxis1 flips an array along its latitude axis.
func reverseAxis1(a *sparse.DenseArray) *sparse.DenseArray {
	nt, ny, nx := a.Shape[0], a.Shape[1], a.Shape[2]
	out := sparse.ZerosDense(nt, ny, nx)
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			src := (t*ny + y) * nx
			dst := (t*ny + (ny - 1 - y)) * nx
			copy(out.Elements[dst:dst+nx], a.Elements[src:src+nx])
		}
	}
	return out
}

func needsLonNormalization(lon []float64) bool {
	for _, x := range lon {
		if x >= 180 {
			return true
		}
	}
	return false
}

// normalizeLons converts a 0-360 longitude convention to [-180, 180)
// and returns the sorted coordinates along with the permutation mapping
// new indices to old ones.
func normalizeLons(lon []float64) ([]float64, []int) {
	wrapped := make([]float64, len(lon))
	for i, x := range lon {
		w := math.Mod(x+180, 360)
		if w < 0 {
			w += 360
		}
		wrapped[i] = w - 180
	}
	perm := make([]int, len(lon))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return wrapped[perm[i]] < wrapped[perm[j]] })
	out := make([]float64, len(lon))
	for i, p := range perm {
		out[i] = wrapped[p]
	}
	return out, perm
}

// permuteAxis2 reorders an array along its longitude axis.
func permuteAxis2(a *sparse.DenseArray, perm []int) *sparse.DenseArray {
	nt, ny, nx := a.Shape[0], a.Shape[1], a.Shape[2]
	out := sparse.ZerosDense(nt, ny, nx)
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			row := (t*ny + y) * nx
			for x, p := range perm {
				out.Elements[row+x] = a.Elements[row+p]
			}
		}
	}
	return out
}

// clipRange returns the half-open index range of coordinate values
// whose cells intersect [lo, hi]. Cells are centered on the coordinate
// values and extend half a resolution step to either side; boundary
// cells that intersect the box are included. The range is never empty
// for a non-empty box: the nearest cell is kept if none intersects.
func clipRange(coords []float64, lo, hi float64, resolution float64) (int, int) {
	if len(coords) == 0 {
		return 0, 0
	}
	half := resolution / 2
	const eps = 1e-9
	i0, i1 := -1, -1
	for i, c := range coords {
		if c+half >= lo-eps && c-half <= hi+eps {
			if i0 < 0 {
				i0 = i
			}
			i1 = i + 1
		}
	}
	if i0 < 0 {
		// No cell intersects; keep the nearest one.
		nearest, best := 0, math.Inf(1)
		mid := (lo + hi) / 2
		for i, c := range coords {
			if d := math.Abs(c - mid); d < best {
				nearest, best = i, d
			}
		}
		return nearest, nearest + 1
	}
	return i0, i1
}

// subsetSpatial extracts the [y0:y1, x0:x1] spatial block of every
// time step.
func subsetSpatial(a *sparse.DenseArray, y0, y1, x0, x1 int) *sparse.DenseArray {
	nt, ny, nx := a.Shape[0], a.Shape[1], a.Shape[2]
	out := sparse.ZerosDense(nt, y1-y0, x1-x0)
	i := 0
	for t := 0; t < nt; t++ {
		for y := y0; y < y1; y++ {
			row := (t*ny+y)*nx + x0
			copy(out.Elements[i:i+x1-x0], a.Elements[row:row+x1-x0])
			i += x1 - x0
		}
	}
	return out
}

// EmptyCube builds a cube with the spatial and temporal coordinates of
// a request but no data variables, without contacting the archive. The
// archive requires at least one variable per retrieval, so a request
// for zero variables is served locally.
func EmptyCube(registry *Registry, identifier string, req *OpenRequest) (*Cube, error) {
	schema, err := BuildSchema(registry, identifier)
	if err != nil {
		return nil, err
	}
	r, err := schema.resolve(req)
	if err != nil {
		return nil, err
	}
	desc := r.desc
	var lat, lon []float64
	if res := desc.SpatialResolution; res > 0 {
		lat = coordVector(r.bounds.Min.Y, r.bounds.Max.Y, res, desc.PointGrid)
		lon = coordVector(r.bounds.Min.X, r.bounds.Max.X, res, desc.PointGrid)
		if !desc.LatAscending {
			lat = reverseCoords(lat)
		}
	}
	meta := CubeMeta{
		Identifier:   identifier,
		CRS:          desc.CRS,
		Bounds:       r.bounds,
		TimePeriod:   desc.TimePeriod,
		ProductType:  r.productType,
		LatAscending: desc.LatAscending,
	}
	if len(desc.ProductTypes) == 0 {
		meta.ProductType = ""
	}
	return Assemble(meta, expectedTimes(desc, r.start, r.end), lat, lon, nil)
}

// coordVector generates the coordinate values spanning [lo, hi] at the
// given resolution: the points themselves for point-registered grids,
// cell centers otherwise.
func coordVector(lo, hi, res float64, pointGrid bool) []float64 {
	if pointGrid {
		n := int(math.Floor((hi-lo)/res+0.5)) + 1
		v := make([]float64, n)
		if n == 1 {
			v[0] = lo
			return v
		}
		floats.Span(v, lo, lo+float64(n-1)*res)
		return v
	}
	n := int(math.Floor((hi - lo) / res))
	if n < 1 {
		n = 1
	}
	v := make([]float64, n)
	if n == 1 {
		v[0] = lo + (hi-lo)/2
		return v
	}
	floats.Span(v, lo+res/2, lo+res/2+float64(n-1)*res)
	return v
}
