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
)

// ParamType identifies the value domain of an open parameter.
type ParamType int

const (
	// ParamStringList is a list of strings drawn from an enumeration.
	ParamStringList ParamType = iota
	// ParamString is a single string drawn from an enumeration.
	ParamString
	// ParamTimeRange is a [start, end] pair of instants.
	ParamTimeRange
	// ParamBounds is a [w, s, e, n] bounding box.
	ParamBounds
)

// Parameter describes one recognized open parameter and its legal value
// domain.
type Parameter struct {
	Name     string
	Type     ParamType
	Required bool
	// Enum lists the legal values for string-typed parameters.
	Enum []string
	// Default is the value assumed when an optional string parameter
	// is omitted.
	Default string
	// Bounds is the legal extent for ParamBounds parameters.
	Bounds *geom.Bounds
	// MinTime and MaxTime bound ParamTimeRange parameters. A zero
	// MaxTime means the range is open-ended.
	MinTime time.Time
	MaxTime time.Time
}

// ParameterSchema enumerates the open parameters recognized for one
// dataset, with their types, defaults, and legality constraints.
type ParameterSchema struct {
	Dataset    string
	Parameters []Parameter

	desc *DatasetDescriptor
}

// BuildSchema derives the open parameter schema for a dataset from its
// registry entry. It is a pure function of the registry. Datasets whose
// registry entry declares geographic subsetting unsupported get no bbox
// parameter at all.
func BuildSchema(registry *Registry, identifier string) (*ParameterSchema, error) {
	desc, err := registry.Describe(identifier)
	if err != nil {
		return nil, err
	}
	s := &ParameterSchema{Dataset: identifier, desc: desc}
	s.Parameters = append(s.Parameters, Parameter{
		Name:     "variables",
		Type:     ParamStringList,
		Required: true,
		Enum:     desc.VariableNames(),
	})
	s.Parameters = append(s.Parameters, Parameter{
		Name:     "time_range",
		Type:     ParamTimeRange,
		Required: true,
		MinTime:  desc.TimeStart,
		MaxTime:  desc.TimeEnd,
	})
	if desc.GeoSubsetting == GeoSubsetSupported {
		b := desc.Bounds
		s.Parameters = append(s.Parameters, Parameter{
			Name:   "bbox",
			Type:   ParamBounds,
			Bounds: &b,
		})
	}
	if len(desc.ProductTypes) > 0 {
		enum := make([]string, len(desc.ProductTypes))
		for i, pt := range desc.ProductTypes {
			enum[i] = pt.Code
		}
		s.Parameters = append(s.Parameters, Parameter{
			Name:    "product_type",
			Type:    ParamString,
			Enum:    enum,
			Default: enum[0],
		})
	}
	return s, nil
}

// Parameter returns the schema entry with the given name.
func (s *ParameterSchema) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// resolvedRequest is an OpenRequest validated against a schema with all
// defaults filled in.
type resolvedRequest struct {
	desc        *DatasetDescriptor
	variables   []Variable // requested variables in request order
	start, end  time.Time  // inclusive effective range
	bounds      geom.Bounds
	productType string
}

// Validate checks req against the schema, returning an
// InvalidParameterError or UnknownVariableError describing the first
// violation found. It performs no network access.
func (s *ParameterSchema) Validate(req *OpenRequest) error {
	_, err := s.resolve(req)
	return err
}

func (s *ParameterSchema) resolve(req *OpenRequest) (*resolvedRequest, error) {
	desc := s.desc
	r := &resolvedRequest{desc: desc}

	// Variables. nil means all; an empty non-nil slice is a valid
	// request for a coordinate-only cube.
	names := req.Variables
	if names == nil {
		names = desc.VariableNames()
	}
	for _, name := range names {
		v, ok := desc.Variable(name)
		if !ok {
			return nil, UnknownVariableError{Dataset: desc.Identifier, Variable: name}
		}
		r.variables = append(r.variables, v)
	}

	// Time range.
	r.start, r.end = req.TimeStart, req.TimeEnd
	if r.start.IsZero() {
		r.start = desc.TimeStart
	}
	if r.end.IsZero() {
		r.end = desc.timeEnd()
	}
	if r.end.Before(r.start) {
		return nil, InvalidParameterError{
			Dataset: desc.Identifier, Parameter: "time_range",
			Reason: "range end precedes range start",
		}
	}
	if r.start.Before(desc.TimeStart) {
		return nil, InvalidParameterError{
			Dataset: desc.Identifier, Parameter: "time_range",
			Reason: fmt.Sprintf("range starts %v, before dataset start %v",
				r.start.Format("2006-01-02"), desc.TimeStart.Format("2006-01-02")),
		}
	}
	// The declared end is a date; the whole of that day is available.
	if !desc.OpenEnded() && r.end.After(desc.TimeEnd.Add(24*time.Hour-time.Second)) {
		return nil, InvalidParameterError{
			Dataset: desc.Identifier, Parameter: "time_range",
			Reason: fmt.Sprintf("range ends %v, after dataset end %v",
				r.end.Format("2006-01-02"), desc.TimeEnd.Format("2006-01-02")),
		}
	}
	if len(expectedTimes(desc, r.start, r.end)) == 0 {
		return nil, InvalidParameterError{
			Dataset: desc.Identifier, Parameter: "time_range",
			Reason: "no data is available within the requested range",
		}
	}

	// Bounding box. The schema omits the parameter entirely for
	// datasets retrieved globally, so supplying one is a violation
	// rather than an always-overridden value.
	if req.Bounds != nil {
		if _, ok := s.Parameter("bbox"); !ok {
			return nil, InvalidParameterError{
				Dataset: desc.Identifier, Parameter: "bbox",
				Reason: "this dataset does not support geographic subsetting",
			}
		}
		b := *req.Bounds
		if b.Empty() {
			return nil, InvalidParameterError{
				Dataset: desc.Identifier, Parameter: "bbox",
				Reason: "bounding box is empty",
			}
		}
		const eps = 1e-9
		if b.Min.X < desc.Bounds.Min.X-eps || b.Min.Y < desc.Bounds.Min.Y-eps ||
			b.Max.X > desc.Bounds.Max.X+eps || b.Max.Y > desc.Bounds.Max.Y+eps {
			return nil, InvalidParameterError{
				Dataset: desc.Identifier, Parameter: "bbox",
				Reason: fmt.Sprintf("[%g, %g, %g, %g] extends outside the dataset extent [%g, %g, %g, %g]",
					b.Min.X, b.Min.Y, b.Max.X, b.Max.Y,
					desc.Bounds.Min.X, desc.Bounds.Min.Y, desc.Bounds.Max.X, desc.Bounds.Max.Y),
			}
		}
		r.bounds = b
	} else {
		r.bounds = desc.Bounds
	}

	// Product type.
	r.productType = req.ProductType
	if pt, ok := s.Parameter("product_type"); ok {
		if r.productType == "" {
			r.productType = pt.Default
		} else {
			found := false
			for _, code := range pt.Enum {
				if code == r.productType {
					found = true
					break
				}
			}
			if !found {
				return nil, InvalidParameterError{
					Dataset: desc.Identifier, Parameter: "product_type",
					Reason: fmt.Sprintf("%q is not one of %v", r.productType, pt.Enum),
				}
			}
		}
	} else if r.productType != "" {
		return nil, InvalidParameterError{
			Dataset: desc.Identifier, Parameter: "product_type",
			Reason: "this dataset has no product types",
		}
	}
	return r, nil
}

// expectedTimes enumerates the timestamps a complete response must
// contain for the inclusive range [start, end] at the dataset's
// granularity: every period boundary intersecting the range, skipping
// months the dataset has no data for.
func expectedTimes(desc *DatasetDescriptor, start, end time.Time) []time.Time {
	var times []time.Time
	p := desc.TimePeriod
	for t := p.Floor(start); !t.After(end); t = p.Next(t) {
		if !desc.monthAvailable(t.Month()) {
			continue
		}
		times = append(times, t)
	}
	return times
}
