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
	"reflect"
	"testing"
	"time"

	"github.com/lnashier/viper"

	"github.com/ctessum/geom"
)

func TestParseBBox(t *testing.T) {
	coords, err := parseBBox([]string{"-10", "35.5", "5", "45"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(coords, []float64{-10, 35.5, 5, 45}) {
		t.Errorf("coords = %v", coords)
	}

	if _, err := parseBBox([]string{"-10", "35", "5"}); err == nil {
		t.Error("expected an error for 3 elements")
	}
	if _, err := parseBBox([]string{"-10", "35", "5", "north"}); err == nil {
		t.Error("expected an error for a non-numeric element")
	}
}

func TestOpenRequest(t *testing.T) {
	cfg := viper.New()
	cfg.Set("variables", []string{"2m_temperature", "total_precipitation"})
	cfg.Set("bbox", []string{"-10", "35", "5", "45"})
	cfg.Set("begin", "2019-06-01")
	cfg.Set("end", "2019-06-10T12:00:00Z")
	cfg.Set("product_type", "reanalysis")

	req, err := openRequest(cfg, "reanalysis-era5-single-levels")
	if err != nil {
		t.Fatal(err)
	}
	if req.Dataset != "reanalysis-era5-single-levels" {
		t.Errorf("dataset = %q", req.Dataset)
	}
	if !reflect.DeepEqual(req.Variables, []string{"2m_temperature", "total_precipitation"}) {
		t.Errorf("variables = %v", req.Variables)
	}
	want := &geom.Bounds{Min: geom.Point{X: -10, Y: 35}, Max: geom.Point{X: 5, Y: 45}}
	if !reflect.DeepEqual(req.Bounds, want) {
		t.Errorf("bounds = %v", req.Bounds)
	}
	if !req.TimeStart.Equal(time.Date(2019, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", req.TimeStart)
	}
	if !req.TimeEnd.Equal(time.Date(2019, time.June, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", req.TimeEnd)
	}
	if req.ProductType != "reanalysis" {
		t.Errorf("product type = %q", req.ProductType)
	}
}

func TestOpenRequestDefaults(t *testing.T) {
	// An empty configuration requests everything: all variables, the
	// full extent, and the whole available time range.
	req, err := openRequest(viper.New(), "reanalysis-era5-land")
	if err != nil {
		t.Fatal(err)
	}
	if req.Variables != nil {
		t.Errorf("variables = %v; want nil for all", req.Variables)
	}
	if req.Bounds != nil {
		t.Errorf("bounds = %v; want nil for the full extent", req.Bounds)
	}
	if !req.TimeStart.IsZero() || !req.TimeEnd.IsZero() {
		t.Errorf("time range = [%v, %v]; want zero values", req.TimeStart, req.TimeEnd)
	}
}

func TestOpenRequestBadBBox(t *testing.T) {
	cfg := viper.New()
	cfg.Set("bbox", []string{"oops"})
	if _, err := openRequest(cfg, "reanalysis-era5-land"); err == nil {
		t.Error("expected an error for a malformed bbox")
	}
}
