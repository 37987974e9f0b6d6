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

package cdsapi

import (
	"context"
	"runtime"

	"github.com/ctessum/requestcache"

	"github.com/spatialmodel/cdscube"
	"github.com/spatialmodel/cdscube/internal/hash"
)

// CachingFetcher wraps a Fetcher with result caching and request
// deduplication, so that repeated opens of the same dataset slice do
// not hit the archive queue again. Cache keys are derived from the
// full archive request body, which is deterministic, so a disk cache
// remains valid across processes.
type CachingFetcher struct {
	fetcher cdscube.Fetcher
	cache   *requestcache.Cache
}

// NewCachingFetcher wraps fetcher with an in-memory cache holding
// memEntries payloads, plus an on-disk cache at cacheDir if it is
// non-empty.
func NewCachingFetcher(fetcher cdscube.Fetcher, memEntries int, cacheDir string) *CachingFetcher {
	f := &CachingFetcher{fetcher: fetcher}
	process := func(ctx context.Context, request interface{}) (interface{}, error) {
		return f.fetcher.Fetch(ctx, request.(*cdscube.ArchiveRequest))
	}
	opts := []requestcache.CacheFunc{
		requestcache.Deduplicate(),
		requestcache.Memory(memEntries),
	}
	if cacheDir != "" {
		opts = append(opts, requestcache.Disk(cacheDir, marshalPayload, unmarshalPayload))
	}
	f.cache = requestcache.NewCache(process, runtime.GOMAXPROCS(-1), opts...)
	return f
}

// Payloads are already raw bytes, so the disk cache stores them
// directly instead of going through gob.
func marshalPayload(data interface{}) ([]byte, error) {
	i := data.(*interface{})
	return (*i).([]byte), nil
}

func unmarshalPayload(b []byte) (interface{}, error) { return b, nil }

// Fetch retrieves the payload for req, from the cache when possible.
func (f *CachingFetcher) Fetch(ctx context.Context, req *cdscube.ArchiveRequest) ([]byte, error) {
	r := f.cache.NewRequest(ctx, req, hash.Hash(req))
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
