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
	"context"
)

// Fetcher retrieves the raw payload for one archive request. The
// cdsapi package provides implementations that talk to the Climate
// Data Store, with and without caching; tests substitute stubs.
type Fetcher interface {
	Fetch(ctx context.Context, req *ArchiveRequest) ([]byte, error)
}

// Store is the top-level entry point: a registry of datasets combined
// with a fetcher that retrieves from the archive. A Store is safe for
// concurrent use if its Fetcher is.
type Store struct {
	registry *Registry
	fetcher  Fetcher
}

// NewStore returns a store serving the given registry through the
// given fetcher.
func NewStore(registry *Registry, fetcher Fetcher) *Store {
	return &Store{registry: registry, fetcher: fetcher}
}

// Identifiers returns the identifiers of the datasets this store
// serves, in sorted order.
func (s *Store) Identifiers() []string { return s.registry.Identifiers() }

// Describe returns the registry descriptor for one dataset.
func (s *Store) Describe(identifier string) (*DatasetDescriptor, error) {
	return s.registry.Describe(identifier)
}

// OpenParametersSchema returns the parameter schema for opening one
// dataset.
func (s *Store) OpenParametersSchema(identifier string) (*ParameterSchema, error) {
	return BuildSchema(s.registry, identifier)
}

// Open retrieves a dataset as a normalized cube. The params map uses
// the keys of the dataset's parameter schema ("variables", "bbox",
// "time_range", "product_type"); it is validated in full before any
// archive request is issued. Requesting an explicitly empty variable
// list returns a coordinate-only cube without contacting the archive.
func (s *Store) Open(ctx context.Context, identifier string, params map[string]interface{}) (*Cube, error) {
	if _, err := s.registry.Describe(identifier); err != nil {
		return nil, err
	}
	req, err := OpenRequestFromParams(identifier, params)
	if err != nil {
		return nil, err
	}
	return s.OpenRequest(ctx, req)
}

// OpenRequest is like Open but takes an already-constructed request.
func (s *Store) OpenRequest(ctx context.Context, req *OpenRequest) (*Cube, error) {
	schema, err := BuildSchema(s.registry, req.Dataset)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(req); err != nil {
		return nil, err
	}
	if req.Variables != nil && len(req.Variables) == 0 {
		return EmptyCube(s.registry, req.Dataset, req)
	}
	archiveReqs, err := Translate(s.registry, req.Dataset, req)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, len(archiveReqs))
	for i, ar := range archiveReqs {
		b, err := s.fetcher.Fetch(ctx, ar)
		if err != nil {
			return nil, FetchError{Dataset: req.Dataset, Index: i, Cause: err}
		}
		payloads[i] = b
	}
	return Normalize(s.registry, req.Dataset, req, payloads)
}
