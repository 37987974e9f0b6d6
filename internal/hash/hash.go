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
along with CDSCube.  If not, see <http://www.gnu.org/licenses/>.*/

// Package hash derives stable cache keys for archive requests. Keys
// must be identical across processes so that an on-disk cache survives
// restarts.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// Hash returns a stable hexadecimal key for the specified object. The
// key of a fmt.Stringer is the FNV hash of its String output, so types
// can control exactly which fields participate.
func Hash(object interface{}) string {
	h := fnv.New128a()

	if s, ok := object.(fmt.Stringer); ok {
		fmt.Fprint(h, s.String())
		return fmt.Sprintf("%x", h.Sum(nil))
	}
	e := gob.NewEncoder(h)
	if err := e.Encode(object); err == nil {
		return fmt.Sprintf("%x", h.Sum(nil))
	}
	// gob can fail on some values (e.g. NaN map keys); fall back to a
	// deterministic spew rendering.
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(h, "%#v", object)
	return fmt.Sprintf("%x", h.Sum(nil))
}
