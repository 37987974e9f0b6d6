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
)

// UnknownDatasetError is returned when a dataset identifier is not
// present in the registry.
type UnknownDatasetError struct {
	Identifier string
}

func (e UnknownDatasetError) Error() string {
	return fmt.Sprintf("cdscube: unknown dataset %q", e.Identifier)
}

// InvalidParameterError is returned when an open parameter violates the
// dataset's parameter schema. It is raised before any network access,
// so the caller never pays fetch cost for a malformed request.
type InvalidParameterError struct {
	Dataset   string
	Parameter string
	Reason    string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s: invalid parameter %q: %s",
		e.Dataset, e.Parameter, e.Reason)
}

// UnknownVariableError is returned when the caller requests a variable
// that is not in the dataset's catalogue.
type UnknownVariableError struct {
	Dataset  string
	Variable string
}

func (e UnknownVariableError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s has no variable %q",
		e.Dataset, e.Variable)
}

// MalformedPayloadError is returned when a downloaded payload cannot be
// unpacked or decoded as expected. It signals archive drift, not a
// caller error.
type MalformedPayloadError struct {
	Dataset string
	Reason  string
}

func (e MalformedPayloadError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s: malformed payload: %s",
		e.Dataset, e.Reason)
}

// UnexpectedVariableError is returned when a payload contains a data
// variable whose short name is absent from the dataset's catalogue.
// The archive backend has renamed variables before (sea ice thickness
// and soil moisture updates), so this fails loudly instead of silently
// dropping or passing through unlabeled data.
type UnexpectedVariableError struct {
	Dataset   string
	ShortName string
}

func (e UnexpectedVariableError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s: payload contains unexpected variable %q",
		e.Dataset, e.ShortName)
}

// IncompleteResponseError is returned when, after merging all
// sub-request payloads, at least one expected timestamp is missing.
// Partial cubes are never returned.
type IncompleteResponseError struct {
	Dataset string
	Missing time.Time
}

func (e IncompleteResponseError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s: response is missing data for %v",
		e.Dataset, e.Missing.Format(time.RFC3339))
}

// InconsistentCubeError indicates a violated cross-variable cube
// invariant. It is a programming-contract violation between the
// normalizer and the assembler, always a defect, never recoverable.
type InconsistentCubeError struct {
	Variable string
	Reason   string
}

func (e InconsistentCubeError) Error() string {
	return fmt.Sprintf("cdscube: inconsistent cube: variable %q: %s",
		e.Variable, e.Reason)
}

// FetchError wraps a failure reported by a Fetcher for one sub-request.
// The cause propagates unmodified; the core does not retry.
type FetchError struct {
	Dataset string
	Index   int // index of the failed sub-request
	Cause   error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("cdscube: dataset %s: fetching sub-request %d: %v",
		e.Dataset, e.Index, e.Cause)
}
