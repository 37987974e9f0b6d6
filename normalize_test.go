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
	"io"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
)

// ncSpec describes a synthetic archive NetCDF file for tests.
type ncSpec struct {
	timeName  string // coordinate name; defaults to "time"
	timeUnits string // CF units; defaults to the ERA5 convention
	times     []time.Time
	lat, lon  []float64
	varNames  []string // order of data variables in the file
	vars      map[string][]float32
}

// makeNetCDF writes a classic-format NetCDF file in memory, shaped the
// way archive responses are.
func makeNetCDF(t *testing.T, spec ncSpec) []byte {
	t.Helper()
	timeName := spec.timeName
	if timeName == "" {
		timeName = "time"
	}
	units := spec.timeUnits
	if units == "" {
		units = "hours since 1900-01-01 00:00:0.0"
	}
	epoch, step, err := parseTimeUnits(units)
	if err != nil {
		t.Fatal(err)
	}
	timeVals := make([]int32, len(spec.times))
	for i, tt := range spec.times {
		timeVals[i] = int32(tt.Sub(epoch) / step)
	}

	h := cdf.NewHeader(
		[]string{timeName, "latitude", "longitude"},
		[]int{len(spec.times), len(spec.lat), len(spec.lon)})
	h.AddVariable(timeName, []string{timeName}, []int32{0})
	h.AddAttribute(timeName, "units", units)
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	for _, name := range spec.varNames {
		h.AddVariable(name, []string{timeName, "latitude", "longitude"}, []float32{0})
	}
	h.Define()

	mf := newMemFile(nil)
	f, err := cdf.Create(mf, h)
	if err != nil {
		t.Fatal(err)
	}
	write := func(name string, data interface{}) {
		w := f.Writer(name, nil, nil)
		if _, err := w.Write(data); err != nil && err != io.EOF {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	write(timeName, timeVals)
	write("latitude", spec.lat)
	write("longitude", spec.lon)
	for _, name := range spec.varNames {
		write(name, spec.vars[name])
	}
	return mf.Bytes()
}

// testGrid returns the descending-latitude cell-center grid of
// validDescriptor.
func testGrid() ([]float64, []float64) {
	return []float64{3.5, 2.5, 1.5, 0.5}, []float64{0.5, 1.5, 2.5, 3.5}
}

// gridValues fills a [len(times), 4, 4] variable with
// 100*timeIndex + 10*latIndex + lonIndex.
func gridValues(nt int) []float32 {
	vals := make([]float32, nt*16)
	i := 0
	for tt := 0; tt < nt; tt++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				vals[i] = float32(100*tt + 10*y + x)
				i++
			}
		}
	}
	return vals
}

func hours(t0 time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestNormalize(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 4)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t", "p"},
		vars: map[string][]float32{
			"t": gridValues(4),
			"p": gridValues(4),
		},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature", "pressure"},
		TimeStart: times[0],
		TimeEnd:   times[3],
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Shape(), []int{4, 4, 4}) {
		t.Fatalf("shape = %v", cube.Shape())
	}
	// Short names map back to the caller-facing request names, in
	// request order.
	if !reflect.DeepEqual(cube.VariableNames(), []string{"temperature", "pressure"}) {
		t.Errorf("variables = %v", cube.VariableNames())
	}
	v, _ := cube.Variable("temperature")
	if v.Units != "K" {
		t.Errorf("units = %q", v.Units)
	}
	if got := v.Data.Get(2, 1, 3); got != 213 {
		t.Errorf("element [2,1,3] = %v; want 213", got)
	}
	if !reflect.DeepEqual(cube.Times, times) {
		t.Errorf("times = %v", cube.Times)
	}
	if !reflect.DeepEqual(cube.Lat, lat) {
		t.Errorf("lat = %v", cube.Lat)
	}
	if cube.Identifier != "test-dataset" || cube.CRS != "WGS84" {
		t.Errorf("meta = %+v", cube.CubeMeta)
	}
}

func TestNormalizeDeterminism(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 2)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(2)},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[1],
	}
	c1, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c1, c2) {
		t.Error("normalizing the same payloads twice gave different cubes")
	}
}

func TestNormalizeClip(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 1)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(1)},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[0],
		Bounds: &geom.Bounds{
			Min: geom.Point{X: 1.2, Y: 1.2},
			Max: geom.Point{X: 2.8, Y: 2.8},
		},
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	// Cells intersecting the box survive; cells wholly outside do not.
	if !reflect.DeepEqual(cube.Lat, []float64{2.5, 1.5}) {
		t.Errorf("lat = %v", cube.Lat)
	}
	if !reflect.DeepEqual(cube.Lon, []float64{1.5, 2.5}) {
		t.Errorf("lon = %v", cube.Lon)
	}
	v, _ := cube.Variable("temperature")
	// Rows 1-2 and columns 1-2 of the source grid.
	want := []float64{11, 12, 21, 22}
	if !reflect.DeepEqual(v.Data.Elements, want) {
		t.Errorf("elements = %v; want %v", v.Data.Elements, want)
	}
	if cube.Bounds != *req.Bounds {
		t.Errorf("cube bounds = %v; want the requested box", cube.Bounds)
	}
}

func TestNormalizeLatFlip(t *testing.T) {
	desc := validDescriptor()
	desc.Identifier = "test-ascending"
	desc.LatAscending = true
	reg, err := NewRegistry(desc)
	if err != nil {
		t.Fatal(err)
	}
	lat, lon := testGrid() // payload latitude is descending
	times := hours(date(2019, time.March, 1), 1)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(1)},
	})
	req := &OpenRequest{
		Dataset:   "test-ascending",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[0],
	}
	cube, err := Normalize(reg, "test-ascending", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Lat, []float64{0.5, 1.5, 2.5, 3.5}) {
		t.Errorf("lat = %v; want ascending", cube.Lat)
	}
	v, _ := cube.Variable("temperature")
	// Row 0 now holds what was the last source row.
	if got := v.Data.Get(0, 0, 2); got != 32 {
		t.Errorf("element [0,0,2] = %v; want 32", got)
	}
}

func TestNormalizeLonWrap(t *testing.T) {
	desc := validDescriptor()
	desc.Identifier = "test-global"
	desc.Bounds = geom.Bounds{
		Min: geom.Point{X: -180, Y: 0},
		Max: geom.Point{X: 180, Y: 90},
	}
	desc.SpatialResolution = 90
	reg, err := NewRegistry(desc)
	if err != nil {
		t.Fatal(err)
	}
	// A 0-360 longitude convention with latitudes matching the 4-row
	// test grid.
	lat := []float64{3.5, 2.5, 1.5, 0.5}
	lon := []float64{45, 135, 225, 315}
	times := hours(date(2019, time.March, 1), 1)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(1)},
	})
	req := &OpenRequest{
		Dataset:   "test-global",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[0],
	}
	cube, err := Normalize(reg, "test-global", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Lon, []float64{-135, -45, 45, 135}) {
		t.Errorf("lon = %v; want [-135 -45 45 135]", cube.Lon)
	}
	v, _ := cube.Variable("temperature")
	// Source column 2 (225° = -135°) rotates to column 0.
	if got := v.Data.Get(0, 1, 0); got != 12 {
		t.Errorf("element [0,1,0] = %v; want 12", got)
	}
	// Source column 0 (45°) rotates to column 2.
	if got := v.Data.Get(0, 1, 2); got != 10 {
		t.Errorf("element [0,1,2] = %v; want 10", got)
	}
}

func TestNormalizeMergesSubRequests(t *testing.T) {
	desc := validDescriptor()
	desc.Split = SplitByYear
	reg, err := NewRegistry(desc)
	if err != nil {
		t.Fatal(err)
	}
	lat, lon := testGrid()
	t0 := date(2019, time.December, 31).Add(23 * time.Hour)
	t1 := date(2020, time.January, 1)
	p1 := makeNetCDF(t, ncSpec{
		times: []time.Time{t0}, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(1)},
	})
	p2vals := gridValues(1)
	for i := range p2vals {
		p2vals[i] += 1000
	}
	p2 := makeNetCDF(t, ncSpec{
		times: []time.Time{t1}, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": p2vals},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: t0,
		TimeEnd:   t1,
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{p1, p2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Times, []time.Time{t0, t1}) {
		t.Errorf("times = %v", cube.Times)
	}
	v, _ := cube.Variable("temperature")
	if got := v.Data.Get(0, 0, 0); got != 0 {
		t.Errorf("first step element = %v; want 0", got)
	}
	if got := v.Data.Get(1, 0, 0); got != 1000 {
		t.Errorf("second step element = %v; want 1000", got)
	}
}

func TestNormalizeTrimsExtraTimestamps(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	// The orthogonal time selection over-fetches: the payload holds
	// four hours but only the middle two were requested.
	times := hours(date(2019, time.March, 1), 4)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(4)},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[1],
		TimeEnd:   times[2],
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Times, []time.Time{times[1], times[2]}) {
		t.Errorf("times = %v; want the requested two", cube.Times)
	}
	v, _ := cube.Variable("temperature")
	if got := v.Data.Get(0, 0, 0); got != 100 {
		t.Errorf("first kept step element = %v; want 100", got)
	}
}

func TestNormalizeMissingTimestamp(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 4)
	// Leave out hour 2.
	present := []time.Time{times[0], times[1], times[3]}
	payload := makeNetCDF(t, ncSpec{
		times: present, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(3)},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[3],
	}
	_, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	ire, ok := err.(IncompleteResponseError)
	if !ok {
		t.Fatalf("error = %v (%T); want IncompleteResponseError", err, err)
	}
	if !ire.Missing.Equal(times[2]) {
		t.Errorf("missing = %v; want %v", ire.Missing, times[2])
	}
}

func TestNormalizePayloadCountMismatch(t *testing.T) {
	reg := testRegistry(t)
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: date(2019, time.March, 1),
		TimeEnd:   date(2019, time.March, 1).Add(time.Hour),
	}
	if _, err := Normalize(reg, "test-dataset", req, nil); err == nil {
		t.Error("expected an error for too few payloads")
	} else if _, ok := err.(IncompleteResponseError); !ok {
		t.Errorf("error = %v (%T); want IncompleteResponseError", err, err)
	}

	lat, lon := testGrid()
	payload := makeNetCDF(t, ncSpec{
		times: hours(date(2019, time.March, 1), 2), lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(2)},
	})
	if _, err := Normalize(reg, "test-dataset", req, [][]byte{payload, payload}); err == nil {
		t.Error("expected an error for too many payloads")
	} else if _, ok := err.(MalformedPayloadError); !ok {
		t.Errorf("error = %v (%T); want MalformedPayloadError", err, err)
	}
}

func TestNormalizeUnexpectedVariable(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 1)
	payload := makeNetCDF(t, ncSpec{
		times: times, lat: lat, lon: lon,
		varNames: []string{"t", "swi"}, // swi is not in the catalogue
		vars: map[string][]float32{
			"t":   gridValues(1),
			"swi": gridValues(1),
		},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[0],
	}
	_, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	uve, ok := err.(UnexpectedVariableError)
	if !ok {
		t.Fatalf("error = %v (%T); want UnexpectedVariableError", err, err)
	}
	if uve.ShortName != "swi" {
		t.Errorf("short name = %q", uve.ShortName)
	}
}

func TestNormalizeInconsistentGrids(t *testing.T) {
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 1)
	shifted := make([]float64, len(lat))
	for i, v := range lat {
		shifted[i] = v + 0.5
	}
	payload := tgzPayload(t,
		[]string{"a.nc", "b.nc"},
		map[string][]byte{
			"a.nc": makeNetCDF(t, ncSpec{
				times: times, lat: lat, lon: lon,
				varNames: []string{"t"},
				vars:     map[string][]float32{"t": gridValues(1)},
			}),
			"b.nc": makeNetCDF(t, ncSpec{
				times: times, lat: shifted, lon: lon,
				varNames: []string{"p"},
				vars:     map[string][]float32{"p": gridValues(1)},
			}),
		})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature", "pressure"},
		TimeStart: times[0],
		TimeEnd:   times[0],
	}
	_, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if _, ok := err.(MalformedPayloadError); !ok {
		t.Errorf("error = %v (%T); want MalformedPayloadError", err, err)
	}
}

func TestNormalizeContainerMembers(t *testing.T) {
	// Satellite products deliver one file per variable inside a tar.gz
	// container.
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 2)
	payload := tgzPayload(t,
		[]string{"t.nc", "p.nc"},
		map[string][]byte{
			"t.nc": makeNetCDF(t, ncSpec{
				times: times, lat: lat, lon: lon,
				varNames: []string{"t"},
				vars:     map[string][]float32{"t": gridValues(2)},
			}),
			"p.nc": makeNetCDF(t, ncSpec{
				times: times, lat: lat, lon: lon,
				varNames: []string{"p"},
				vars:     map[string][]float32{"p": gridValues(2)},
			}),
		})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature", "pressure"},
		TimeStart: times[0],
		TimeEnd:   times[1],
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.VariableNames(), []string{"temperature", "pressure"}) {
		t.Errorf("variables = %v", cube.VariableNames())
	}
	if !reflect.DeepEqual(cube.Shape(), []int{2, 4, 4}) {
		t.Errorf("shape = %v", cube.Shape())
	}
}

func TestNormalizeRenamedTimeCoordinate(t *testing.T) {
	// The archive backend has shipped files calling the time
	// coordinate valid_time with different units.
	reg := testRegistry(t)
	lat, lon := testGrid()
	times := hours(date(2019, time.March, 1), 2)
	payload := makeNetCDF(t, ncSpec{
		timeName:  "valid_time",
		timeUnits: "seconds since 1970-01-01",
		times:     times, lat: lat, lon: lon,
		varNames: []string{"t"},
		vars:     map[string][]float32{"t": gridValues(2)},
	})
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{"temperature"},
		TimeStart: times[0],
		TimeEnd:   times[1],
	}
	cube, err := Normalize(reg, "test-dataset", req, [][]byte{payload})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cube.Times, times) {
		t.Errorf("times = %v", cube.Times)
	}
}

func TestEmptyCube(t *testing.T) {
	reg := testRegistry(t)
	req := &OpenRequest{
		Dataset:   "test-dataset",
		Variables: []string{},
		TimeStart: date(2019, time.March, 1),
		TimeEnd:   date(2019, time.March, 1).Add(3 * time.Hour),
	}
	cube, err := EmptyCube(reg, "test-dataset", req)
	if err != nil {
		t.Fatal(err)
	}
	if len(cube.Variables) != 0 {
		t.Errorf("variables = %v; want none", cube.VariableNames())
	}
	if !reflect.DeepEqual(cube.Shape(), []int{4, 4, 4}) {
		t.Errorf("shape = %v", cube.Shape())
	}
	wantLat, wantLon := testGrid()
	if !reflect.DeepEqual(cube.Lat, wantLat) {
		t.Errorf("lat = %v; want %v", cube.Lat, wantLat)
	}
	if !reflect.DeepEqual(cube.Lon, wantLon) {
		t.Errorf("lon = %v; want %v", cube.Lon, wantLon)
	}
}

func TestApplyPacking(t *testing.T) {
	scale, offset, fill := 0.5, 100.0, -32767.0
	elements := []float64{2, 4, fill}
	applyPacking(elements, &scale, &offset, &fill, nil)
	if elements[0] != 101 || elements[1] != 102 {
		t.Errorf("unpacked = %v", elements[:2])
	}
	if !math.IsNaN(elements[2]) {
		t.Errorf("fill value = %v; want NaN", elements[2])
	}
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units string
		epoch string
		step  time.Duration
		ok    bool
	}{
		{"hours since 1900-01-01 00:00:0.0", "1900-01-01T00:00:00Z", time.Hour, true},
		{"seconds since 1970-01-01", "1970-01-01T00:00:00Z", time.Second, true},
		{"days since 1978-11-01 00:00:00", "1978-11-01T00:00:00Z", 24 * time.Hour, true},
		{"minutes since 2000-01-01T00:00:00Z", "2000-01-01T00:00:00Z", time.Minute, true},
		{"fortnights since 1970-01-01", "", 0, false},
		{"hours", "", 0, false},
	}
	for _, test := range tests {
		epoch, step, err := parseTimeUnits(test.units)
		if !test.ok {
			if err == nil {
				t.Errorf("%q: expected an error", test.units)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.units, err)
			continue
		}
		want, err := time.Parse(time.RFC3339, test.epoch)
		if err != nil {
			t.Fatal(err)
		}
		if !epoch.Equal(want) || step != test.step {
			t.Errorf("%q: epoch %v step %v; want %v %v", test.units, epoch, step, want, test.step)
		}
	}
}
