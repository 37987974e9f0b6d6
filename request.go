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
	"github.com/spf13/cast"
)

// OpenRequest is one caller-supplied open call. It is created fresh for
// each call, validated against the dataset's parameter schema, and
// consumed entirely by the request translator.
type OpenRequest struct {
	// Dataset is the dataset identifier.
	Dataset string
	// Variables is the requested subset of the dataset's variable
	// request names. nil means all variables; an empty non-nil slice
	// requests a cube with coordinates but no data variables.
	Variables []string
	// TimeStart and TimeEnd bound the requested time range
	// (inclusive). A zero TimeStart means the dataset's start; a zero
	// TimeEnd means the dataset's end (or the present for open-ended
	// datasets).
	TimeStart time.Time
	TimeEnd   time.Time
	// Bounds is the requested bounding box, or nil for the dataset's
	// full extent. Must be nil for datasets that do not support
	// geographic subsetting.
	Bounds *geom.Bounds
	// ProductType selects a retrieval variant for datasets that
	// declare product types. Empty selects the dataset's default.
	ProductType string
}

// Time layouts accepted for open parameters.
var timeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseRequestTime(dataset, param, s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, InvalidParameterError{
		Dataset:   dataset,
		Parameter: param,
		Reason:    fmt.Sprintf("cannot parse time %q", s),
	}
}

// openParamNames are the recognized open parameter keys.
var openParamNames = []string{"variables", "bbox", "time_range", "product_type"}

// OpenRequestFromParams decodes a generic parameter map of the kind a
// hosting store framework passes through. Recognized keys are
// "variables" ([]string), "bbox" ([w, s, e, n]), "time_range"
// ([start, end] time strings, end may be empty), and "product_type"
// (string).
func OpenRequestFromParams(dataset string, params map[string]interface{}) (*OpenRequest, error) {
	req := &OpenRequest{Dataset: dataset}
	for key := range params {
		known := false
		for _, name := range openParamNames {
			if key == name {
				known = true
				break
			}
		}
		if !known {
			return nil, InvalidParameterError{
				Dataset:   dataset,
				Parameter: key,
				Reason:    "unrecognized parameter",
			}
		}
	}
	if v, ok := params["variables"]; ok {
		names, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, InvalidParameterError{
				Dataset: dataset, Parameter: "variables",
				Reason: fmt.Sprintf("expected a list of strings: %v", err),
			}
		}
		if names == nil {
			names = []string{}
		}
		req.Variables = names
	}
	if v, ok := params["bbox"]; ok {
		vals, err := cast.ToSliceE(v)
		if err != nil || len(vals) != 4 {
			return nil, InvalidParameterError{
				Dataset: dataset, Parameter: "bbox",
				Reason: "expected [w, s, e, n]",
			}
		}
		coords := make([]float64, 4)
		for i, val := range vals {
			coords[i], err = cast.ToFloat64E(val)
			if err != nil {
				return nil, InvalidParameterError{
					Dataset: dataset, Parameter: "bbox",
					Reason: fmt.Sprintf("element %d is not a number", i),
				}
			}
		}
		req.Bounds = &geom.Bounds{
			Min: geom.Point{X: coords[0], Y: coords[1]},
			Max: geom.Point{X: coords[2], Y: coords[3]},
		}
	}
	if v, ok := params["time_range"]; ok {
		r, err := cast.ToStringSliceE(v)
		if err != nil || len(r) != 2 {
			return nil, InvalidParameterError{
				Dataset: dataset, Parameter: "time_range",
				Reason: "expected [start, end]",
			}
		}
		if r[0] != "" {
			req.TimeStart, err = parseRequestTime(dataset, "time_range", r[0])
			if err != nil {
				return nil, err
			}
		}
		if r[1] != "" {
			req.TimeEnd, err = parseRequestTime(dataset, "time_range", r[1])
			if err != nil {
				return nil, err
			}
		}
	}
	if v, ok := params["product_type"]; ok {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, InvalidParameterError{
				Dataset: dataset, Parameter: "product_type",
				Reason: "expected a string",
			}
		}
		req.ProductType = s
	}
	return req, nil
}
