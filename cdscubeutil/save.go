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

package cdscubeutil

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/cdscube"
)

// timeUnits is the encoding of the cube's time coordinate in output
// files.
const timeUnits = "seconds since 1970-01-01 00:00:00"

// WriteCube writes a cube to netcdf file w.
func WriteCube(w *os.File, c *cdscube.Cube) error {
	h := cdf.NewHeader(
		[]string{"time", "lat", "lon"},
		[]int{len(c.Times), len(c.Lat), len(c.Lon)})
	h.AddAttribute("", "title", fmt.Sprintf("CDSCube data cube for %s", c.Identifier))
	h.AddAttribute("", "dataset", c.Identifier)
	h.AddAttribute("", "crs", c.CRS)
	h.AddAttribute("", "bbox", []float64{
		c.Bounds.Min.X, c.Bounds.Min.Y, c.Bounds.Max.X, c.Bounds.Max.Y})
	h.AddAttribute("", "time_period", string(c.TimePeriod))
	if c.ProductType != "" {
		h.AddAttribute("", "product_type", c.ProductType)
	}

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnits)
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")

	// The cube's variable order is the request order; keep it in the
	// file rather than sorting, so round-trips preserve it.
	for _, v := range c.Variables {
		h.AddVariable(v.Name, []string{"time", "lat", "lon"}, []float32{0})
		h.AddAttribute(v.Name, "units", v.Units)
		h.AddAttribute(v.Name, "long_name", v.LongName)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return fmt.Errorf("cdscube: writing netcdf header: %v", err)
	}

	times := make([]float64, len(c.Times))
	for i, t := range c.Times {
		times[i] = float64(t.Unix())
	}
	if err := writeVector(f, "time", times); err != nil {
		return err
	}
	if err := writeVector(f, "lat", c.Lat); err != nil {
		return err
	}
	if err := writeVector(f, "lon", c.Lon); err != nil {
		return err
	}
	for _, v := range c.Variables {
		if err := writeNCF(f, v.Name, v.Data); err != nil {
			return fmt.Errorf("cdscube: writing variable %s to netcdf file: %v", v.Name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeVector(f *cdf.File, name string, data []float64) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("cdscube: writing %s coordinate: %v", name, err)
	}
	return nil
}

func writeNCF(f *cdf.File, Var string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(Var)
	start := make([]int, len(end))
	w := f.Writer(Var, start, end)
	_, err := w.Write(data32)
	if err != nil {
		return err
	}
	return nil
}
