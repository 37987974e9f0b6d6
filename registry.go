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
	"io"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
)

// Registry holds the dataset descriptors known to the store. It is
// immutable after construction and safe for unsynchronized concurrent
// reads.
type Registry struct {
	descriptors map[string]*DatasetDescriptor
	identifiers []string
}

// NewRegistry creates a registry from the given descriptors, checking
// each descriptor's invariants and the uniqueness of identifiers.
func NewRegistry(descs ...*DatasetDescriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]*DatasetDescriptor)}
	for _, d := range descs {
		if err := d.check(); err != nil {
			return nil, err
		}
		if _, ok := r.descriptors[d.Identifier]; ok {
			return nil, fmt.Errorf("cdscube: duplicate dataset identifier %q", d.Identifier)
		}
		r.descriptors[d.Identifier] = d
		r.identifiers = append(r.identifiers, d.Identifier)
	}
	sort.Strings(r.identifiers)
	return r, nil
}

// Describe returns the descriptor for the given dataset identifier.
func (r *Registry) Describe(identifier string) (*DatasetDescriptor, error) {
	d, ok := r.descriptors[identifier]
	if !ok {
		return nil, UnknownDatasetError{Identifier: identifier}
	}
	return d, nil
}

// Identifiers returns the registered dataset identifiers in a stable
// sorted order.
func (r *Registry) Identifiers() []string {
	ids := make([]string, len(r.identifiers))
	copy(ids, r.identifiers)
	return ids
}

// registryDoc is the TOML document format for dataset descriptors.
type registryDoc struct {
	Dataset []datasetDoc `toml:"dataset"`
}

type datasetDoc struct {
	Identifier        string            `toml:"identifier"`
	Archive           string            `toml:"archive"`
	Description       string            `toml:"description"`
	CRS               string            `toml:"crs"`
	Proj4             string            `toml:"proj4"`
	Bbox              []float64         `toml:"bbox"` // W, S, E, N
	SpatialResolution float64           `toml:"spatial_resolution"`
	LatAscending      bool              `toml:"lat_ascending"`
	PointGrid         bool              `toml:"point_grid"`
	TimeStart         string            `toml:"time_start"`
	TimeEnd           string            `toml:"time_end"`
	TimePeriod        string            `toml:"time_period"`
	Months            []int             `toml:"months"`
	GeoSubsetting     string            `toml:"geo_subsetting"`
	Split             string            `toml:"split"`
	Format            string            `toml:"format"`
	FixedParams       map[string]string `toml:"fixed_params"`
	ProductType       []productTypeDoc  `toml:"product_type"`
	Variable          []variableDoc     `toml:"variable"`
}

type productTypeDoc struct {
	Code  string `toml:"code"`
	Label string `toml:"label"`
}

type variableDoc struct {
	RequestName string `toml:"request_name"`
	ShortName   string `toml:"short_name"`
	Units       string `toml:"units"`
	LongName    string `toml:"long_name"`
}

// LoadRegistry reads a registry from a TOML document containing one or
// more [[dataset]] tables.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var doc registryDoc
	if _, err := toml.DecodeReader(r, &doc); err != nil {
		return nil, fmt.Errorf("cdscube: decoding dataset registry: %v", err)
	}
	descs := make([]*DatasetDescriptor, len(doc.Dataset))
	for i, dd := range doc.Dataset {
		d, err := dd.descriptor()
		if err != nil {
			return nil, err
		}
		descs[i] = d
	}
	return NewRegistry(descs...)
}

func (dd *datasetDoc) descriptor() (*DatasetDescriptor, error) {
	if len(dd.Bbox) != 4 {
		return nil, fmt.Errorf("cdscube: dataset %s: bbox must have 4 elements, not %d",
			dd.Identifier, len(dd.Bbox))
	}
	start, err := time.Parse("2006-01-02", dd.TimeStart)
	if err != nil {
		return nil, fmt.Errorf("cdscube: dataset %s: parsing time_start: %v", dd.Identifier, err)
	}
	var end time.Time
	if dd.TimeEnd != "" {
		end, err = time.Parse("2006-01-02", dd.TimeEnd)
		if err != nil {
			return nil, fmt.Errorf("cdscube: dataset %s: parsing time_end: %v", dd.Identifier, err)
		}
	}
	var geo GeoSubsetting
	switch dd.GeoSubsetting {
	case "", "supported":
		geo = GeoSubsetSupported
	case "global-only":
		geo = GeoGlobalOnly
	default:
		return nil, fmt.Errorf("cdscube: dataset %s: unknown geo_subsetting %q",
			dd.Identifier, dd.GeoSubsetting)
	}
	var split SplitPolicy
	switch dd.Split {
	case "", "none":
		split = SplitNone
	case "year":
		split = SplitByYear
	case "month":
		split = SplitByMonth
	default:
		return nil, fmt.Errorf("cdscube: dataset %s: unknown split policy %q",
			dd.Identifier, dd.Split)
	}
	d := &DatasetDescriptor{
		Identifier:        dd.Identifier,
		Archive:           dd.Archive,
		Description:       dd.Description,
		CRS:               dd.CRS,
		Proj4:             dd.Proj4,
		Bounds: geom.Bounds{
			Min: geom.Point{X: dd.Bbox[0], Y: dd.Bbox[1]},
			Max: geom.Point{X: dd.Bbox[2], Y: dd.Bbox[3]},
		},
		SpatialResolution: dd.SpatialResolution,
		LatAscending:      dd.LatAscending,
		PointGrid:         dd.PointGrid,
		TimeStart:         start,
		TimeEnd:           end,
		TimePeriod:        TimePeriod(dd.TimePeriod),
		Months:            dd.Months,
		GeoSubsetting:     geo,
		Split:             split,
		Format:            dd.Format,
		FixedParams:       dd.FixedParams,
	}
	for _, pt := range dd.ProductType {
		d.ProductTypes = append(d.ProductTypes, ProductType{Code: pt.Code, Label: pt.Label})
	}
	for _, v := range dd.Variable {
		d.Variables = append(d.Variables, Variable{
			RequestName: v.RequestName,
			ShortName:   v.ShortName,
			Units:       v.Units,
			LongName:    v.LongName,
		})
	}
	return d, nil
}
