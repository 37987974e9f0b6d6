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
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
)

// payloadKind identifies the container format of a downloaded payload.
// The archive has changed formats without a version bump before, so the
// kind is determined from the payload's header bytes rather than any
// declared content type.
type payloadKind int

const (
	payloadUnknown payloadKind = iota
	payloadNetCDFClassic
	payloadNetCDF4
	payloadZip
	payloadTarGz
)

func sniffPayload(b []byte) payloadKind {
	switch {
	case len(b) >= 4 && b[0] == 'C' && b[1] == 'D' && b[2] == 'F' && (b[3] == 1 || b[3] == 2):
		return payloadNetCDFClassic
	case len(b) >= 4 && b[0] == 0x89 && b[1] == 'H' && b[2] == 'D' && b[3] == 'F':
		return payloadNetCDF4
	case len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4:
		return payloadZip
	case len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b:
		return payloadTarGz
	}
	return payloadUnknown
}

func isNetCDF(k payloadKind) bool {
	return k == payloadNetCDFClassic || k == payloadNetCDF4
}

// unpackPayload unwraps one raw payload into its NetCDF member files.
// Single NetCDF payloads pass through unchanged; ZIP and gzipped tar
// containers are unpacked, with members returned in name order for
// determinism. Containers holding no NetCDF members, or members that
// are not NetCDF, are malformed.
func unpackPayload(dataset string, payload []byte) ([][]byte, error) {
	switch sniffPayload(payload) {
	case payloadNetCDFClassic, payloadNetCDF4:
		return [][]byte{payload}, nil
	case payloadZip:
		return unpackZip(dataset, payload)
	case payloadTarGz:
		return unpackTarGz(dataset, payload)
	}
	return nil, MalformedPayloadError{
		Dataset: dataset,
		Reason:  "unrecognized payload format (not NetCDF, ZIP, or tar.gz)",
	}
}

type payloadMember struct {
	name string
	data []byte
}

func sortedMembers(members []payloadMember) [][]byte {
	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = m.data
	}
	return out
}

func unpackZip(dataset string, payload []byte) ([][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading ZIP container: %v", err)}
	}
	var members []payloadMember
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("opening ZIP member %s: %v", zf.Name, err)}
		}
		data, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading ZIP member %s: %v", zf.Name, err)}
		}
		if !isNetCDF(sniffPayload(data)) {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("ZIP member %s is not a NetCDF file", zf.Name)}
		}
		members = append(members, payloadMember{name: zf.Name, data: data})
	}
	if len(members) == 0 {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: "ZIP container holds no files"}
	}
	return sortedMembers(members), nil
}

func unpackTarGz(dataset string, payload []byte) ([][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading gzip container: %v", err)}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	var members []payloadMember
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading tar container: %v", err)}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := ioutil.ReadAll(tr)
		if err != nil {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("reading tar member %s: %v", hdr.Name, err)}
		}
		if !isNetCDF(sniffPayload(data)) {
			return nil, MalformedPayloadError{Dataset: dataset, Reason: fmt.Sprintf("tar member %s is not a NetCDF file", hdr.Name)}
		}
		members = append(members, payloadMember{name: hdr.Name, data: data})
	}
	if len(members) == 0 {
		return nil, MalformedPayloadError{Dataset: dataset, Reason: "tar container holds no files"}
	}
	return sortedMembers(members), nil
}

// memFile is an in-memory cdf.ReaderWriterAt, used both to decode
// downloaded payloads without touching the filesystem and to build
// synthetic payloads in tests.
type memFile struct {
	buf []byte
}

func newMemFile(b []byte) *memFile { return &memFile{buf: b} }

func (f *memFile) Bytes() []byte { return f.buf }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if need := off + int64(len(p)); need > int64(len(f.buf)) {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	return copy(f.buf[off:], p), nil
}
