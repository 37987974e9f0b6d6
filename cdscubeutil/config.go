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

	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/spatialmodel/cdscube"
)

// openRequest builds the open request for one dataset from the
// configuration. It only assembles the request; validation against the
// dataset's parameter schema happens when the store opens it.
func openRequest(cfg *viper.Viper, dataset string) (*cdscube.OpenRequest, error) {
	params := make(map[string]interface{})
	if vars := expandStringSlice(cfg.GetStringSlice("variables")); len(vars) > 0 {
		params["variables"] = vars
	}
	if bbox := cfg.GetStringSlice("bbox"); len(bbox) > 0 {
		coords, err := parseBBox(bbox)
		if err != nil {
			return nil, err
		}
		params["bbox"] = coords
	}
	begin, end := cfg.GetString("begin"), cfg.GetString("end")
	if begin != "" || end != "" {
		params["time_range"] = []string{begin, end}
	}
	if pt := cfg.GetString("product_type"); pt != "" {
		params["product_type"] = pt
	}
	return cdscube.OpenRequestFromParams(dataset, params)
}

// parseBBox converts a west,south,east,north string list to
// coordinates.
func parseBBox(bbox []string) ([]float64, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("cdscube: bbox must have 4 elements (west,south,east,north); got %d", len(bbox))
	}
	coords := make([]float64, 4)
	for i, s := range bbox {
		v, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, fmt.Errorf("cdscube: bbox element %q is not a number", s)
		}
		coords[i] = v
	}
	return coords, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}
