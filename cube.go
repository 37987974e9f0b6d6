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

	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// DefaultTileSize is the maximum spatial chunk extent, in cells per
// axis.
const DefaultTileSize = 1000

// CubeMeta is the cube-level metadata attached to a normalized cube.
type CubeMeta struct {
	// Identifier is the registry identifier of the source dataset.
	Identifier string
	// CRS is the dataset's coordinate reference system.
	CRS string
	// Bounds is the caller's requested bounding box (not the archive's
	// global extent).
	Bounds geom.Bounds
	// TimePeriod is the dataset's temporal granularity.
	TimePeriod TimePeriod
	// ProductType is the retrieval variant this cube was fetched with,
	// or empty if the dataset has none.
	ProductType string
	// LatAscending records the latitude axis direction.
	LatAscending bool
}

// CubeVariable is one data variable of a cube: a [time, lat, lon]
// array labeled with the caller-facing variable identifier.
type CubeVariable struct {
	Name     string
	Units    string
	LongName string
	Data     *sparse.DenseArray
}

// Cube is a normalized multidimensional dataset: one or more variables
// sharing the axes time, lat, and lon, a strictly increasing time
// coordinate, and cube-level CRS and bounding-box metadata.
type Cube struct {
	CubeMeta

	Times []time.Time
	Lat   []float64
	Lon   []float64

	// Variables are in the order they were requested.
	Variables []*CubeVariable
}

// Variable returns the cube variable with the given name.
func (c *Cube) Variable(name string) (*CubeVariable, bool) {
	for _, v := range c.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// VariableNames returns the cube's variable names in order.
func (c *Cube) VariableNames() []string {
	names := make([]string, len(c.Variables))
	for i, v := range c.Variables {
		names[i] = v.Name
	}
	return names
}

// Shape returns the cube's [time, lat, lon] extent.
func (c *Cube) Shape() []int {
	return []int{len(c.Times), len(c.Lat), len(c.Lon)}
}

// Assemble combines normalized per-variable arrays into a cube,
// validating the cross-variable invariants: every variable has the
// shape implied by the axes, the time coordinate is strictly
// increasing, and the latitude axis runs in the declared direction.
// A violation is a contract breach between the normalizer and the
// assembler, reported as an InconsistentCubeError and never recovered
// from.
func Assemble(meta CubeMeta, times []time.Time, lat, lon []float64, vars []*CubeVariable) (*Cube, error) {
	if meta.Identifier == "" || meta.CRS == "" {
		return nil, InconsistentCubeError{Reason: "missing dataset identifier or CRS"}
	}
	if meta.Bounds.Empty() {
		return nil, InconsistentCubeError{Reason: "empty bounding box"}
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, InconsistentCubeError{
				Reason: fmt.Sprintf("time axis is not strictly increasing at index %d", i),
			}
		}
	}
	for i := 1; i < len(lat); i++ {
		if meta.LatAscending && lat[i] <= lat[i-1] || !meta.LatAscending && lat[i] >= lat[i-1] {
			return nil, InconsistentCubeError{
				Reason: fmt.Sprintf("latitude axis direction does not match the declared convention at index %d", i),
			}
		}
	}
	for i := 1; i < len(lon); i++ {
		if lon[i] <= lon[i-1] {
			return nil, InconsistentCubeError{
				Reason: fmt.Sprintf("longitude axis is not strictly increasing at index %d", i),
			}
		}
	}
	shape := []int{len(times), len(lat), len(lon)}
	seen := make(map[string]bool)
	for _, v := range vars {
		if v.Name == "" {
			return nil, InconsistentCubeError{Reason: "variable with empty name"}
		}
		if seen[v.Name] {
			return nil, InconsistentCubeError{Variable: v.Name, Reason: "duplicate variable"}
		}
		seen[v.Name] = true
		if v.Data == nil {
			return nil, InconsistentCubeError{Variable: v.Name, Reason: "missing data array"}
		}
		if len(v.Data.Shape) != 3 {
			return nil, InconsistentCubeError{
				Variable: v.Name,
				Reason:   fmt.Sprintf("expected 3 axes, got %d", len(v.Data.Shape)),
			}
		}
		for i, n := range v.Data.Shape {
			if n != shape[i] {
				return nil, InconsistentCubeError{
					Variable: v.Name,
					Reason: fmt.Sprintf("shape %v does not match axes %v",
						v.Data.Shape, shape),
				}
			}
		}
	}
	return &Cube{
		CubeMeta:  meta,
		Times:     times,
		Lat:       lat,
		Lon:       lon,
		Variables: vars,
	}, nil
}

// ChunkSpec addresses one chunk of a cube: half-open index ranges along
// the time, lat, and lon axes.
type ChunkSpec struct {
	T0, T1 int
	Y0, Y1 int
	X0, X1 int
}

// Chunks enumerates the cube's chunk scheme: one time step per temporal
// chunk and spatial tiles of at most DefaultTileSize cells per axis, so
// downstream consumers can stream per-chunk without loading the full
// cube.
func (c *Cube) Chunks() []ChunkSpec {
	var specs []ChunkSpec
	tileY := len(c.Lat)
	if tileY > DefaultTileSize {
		tileY = DefaultTileSize
	}
	tileX := len(c.Lon)
	if tileX > DefaultTileSize {
		tileX = DefaultTileSize
	}
	for t := 0; t < len(c.Times); t++ {
		for y := 0; y < len(c.Lat); y += tileY {
			y1 := y + tileY
			if y1 > len(c.Lat) {
				y1 = len(c.Lat)
			}
			for x := 0; x < len(c.Lon); x += tileX {
				x1 := x + tileX
				if x1 > len(c.Lon) {
					x1 = len(c.Lon)
				}
				specs = append(specs, ChunkSpec{T0: t, T1: t + 1, Y0: y, Y1: y1, X0: x, X1: x1})
			}
		}
	}
	return specs
}

// Chunk extracts one chunk of the named variable as a new array.
func (c *Cube) Chunk(name string, spec ChunkSpec) (*sparse.DenseArray, error) {
	v, ok := c.Variable(name)
	if !ok {
		return nil, UnknownVariableError{Dataset: c.Identifier, Variable: name}
	}
	if spec.T0 < 0 || spec.T1 > len(c.Times) || spec.T0 >= spec.T1 ||
		spec.Y0 < 0 || spec.Y1 > len(c.Lat) || spec.Y0 >= spec.Y1 ||
		spec.X0 < 0 || spec.X1 > len(c.Lon) || spec.X0 >= spec.X1 {
		return nil, fmt.Errorf("cdscube: chunk %+v is out of range for shape %v", spec, c.Shape())
	}
	out := sparse.ZerosDense(spec.T1-spec.T0, spec.Y1-spec.Y0, spec.X1-spec.X0)
	i := 0
	for t := spec.T0; t < spec.T1; t++ {
		for y := spec.Y0; y < spec.Y1; y++ {
			for x := spec.X0; x < spec.X1; x++ {
				out.Elements[i] = v.Data.Get(t, y, x)
				i++
			}
		}
	}
	return out, nil
}
