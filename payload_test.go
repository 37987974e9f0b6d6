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
	"testing"
)

func TestSniffPayload(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want payloadKind
	}{
		{"classic CDF-1", []byte("CDF\x01rest"), payloadNetCDFClassic},
		{"classic CDF-2", []byte("CDF\x02rest"), payloadNetCDFClassic},
		{"netcdf4", []byte("\x89HDF\r\n\x1a\n"), payloadNetCDF4},
		{"zip", []byte("PK\x03\x04rest"), payloadZip},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, payloadTarGz},
		{"html error page", []byte("<html>"), payloadUnknown},
		{"empty", nil, payloadUnknown},
		{"truncated", []byte("CD"), payloadUnknown},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := sniffPayload(test.b); got != test.want {
				t.Errorf("sniffPayload = %v; want %v", got, test.want)
			}
		})
	}
}

// zipPayload builds a ZIP container from name -> content pairs.
func zipPayload(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// tgzPayload builds a gzipped tar container from name -> content pairs
// in the given order.
func tgzPayload(t *testing.T, names []string, members map[string][]byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := members[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(data)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUnpackPassthrough(t *testing.T) {
	nc := []byte("CDF\x01data")
	members, err := unpackPayload("test", nc)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || !bytes.Equal(members[0], nc) {
		t.Errorf("members = %v", members)
	}
}

func TestUnpackZip(t *testing.T) {
	payload := zipPayload(t, map[string][]byte{
		"b.nc": []byte("CDF\x01bbb"),
		"a.nc": []byte("CDF\x01aaa"),
	})
	members, err := unpackPayload("test", payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("have %d members; want 2", len(members))
	}
	// Members come back in name order regardless of container order.
	if !bytes.Equal(members[0], []byte("CDF\x01aaa")) || !bytes.Equal(members[1], []byte("CDF\x01bbb")) {
		t.Errorf("members out of order: %q, %q", members[0], members[1])
	}
}

func TestUnpackTarGz(t *testing.T) {
	payload := tgzPayload(t,
		[]string{"z.nc", "a.nc"},
		map[string][]byte{
			"z.nc": []byte("CDF\x02zzz"),
			"a.nc": []byte("CDF\x02aaa"),
		})
	members, err := unpackPayload("test", payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("have %d members; want 2", len(members))
	}
	if !bytes.Equal(members[0], []byte("CDF\x02aaa")) {
		t.Errorf("first member = %q; want a.nc content", members[0])
	}
}

func TestUnpackMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"unknown format", []byte("<html>Internal Server Error</html>")},
		{"empty zip", zipPayload(t, nil)},
		{"zip with non-netcdf member", zipPayload(t, map[string][]byte{"readme.txt": []byte("hello")})},
		{"empty tgz", tgzPayload(t, nil, nil)},
		{"tgz with non-netcdf member", tgzPayload(t,
			[]string{"readme.txt"}, map[string][]byte{"readme.txt": []byte("hello")})},
		{"truncated gzip", []byte{0x1f, 0x8b}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := unpackPayload("test", test.payload)
			if _, ok := err.(MalformedPayloadError); !ok {
				t.Errorf("error = %v (%T); want MalformedPayloadError", err, err)
			}
		})
	}
}

func TestMemFile(t *testing.T) {
	f := newMemFile(nil)
	if _, err := f.WriteAt([]byte("hello"), 2); err != nil {
		t.Fatal(err)
	}
	if got := len(f.Bytes()); got != 7 {
		t.Errorf("length = %d; want 7", got)
	}
	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 2)
	if err != nil || n != 5 {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q", buf)
	}
	if _, err := f.ReadAt(buf, 7); err == nil {
		t.Error("expected EOF past the end")
	}
}
