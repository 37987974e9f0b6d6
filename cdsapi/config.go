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
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Config holds the credentials for the Climate Data Store API.
type Config struct {
	// URL is the API base URL, without a trailing slash.
	URL string
	// Key is the API key in "UID:KEY" form, as issued by the CDS
	// registration page.
	Key string
}

// ReadConfig parses a configuration in the .cdsapirc format: one
// "url: ..." line and one "key: ..." line, in either order. Unknown
// lines and blank lines are ignored for forward compatibility.
func ReadConfig(r io.Reader) (Config, error) {
	var cfg Config
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		key, val := strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		switch key {
		case "url":
			cfg.URL = strings.TrimSuffix(val, "/")
		case "key":
			cfg.Key = val
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("cdsapi: reading configuration: %v", err)
	}
	if cfg.URL == "" || cfg.Key == "" {
		return Config{}, fmt.Errorf("cdsapi: configuration must set both url and key")
	}
	return cfg, nil
}

// LoadConfig loads the API configuration. The CDSAPI_URL and
// CDSAPI_KEY environment variables take precedence; otherwise the
// file at path is read, defaulting to ~/.cdsapirc when path is empty.
func LoadConfig(path string) (Config, error) {
	if url, key := os.Getenv("CDSAPI_URL"), os.Getenv("CDSAPI_KEY"); url != "" && key != "" {
		return Config{URL: strings.TrimSuffix(url, "/"), Key: key}, nil
	}
	if path == "" {
		u, err := user.Current()
		if err != nil {
			return Config{}, fmt.Errorf("cdsapi: finding home directory: %v", err)
		}
		path = filepath.Join(u.HomeDir, ".cdsapirc")
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("cdsapi: opening configuration: %v", err)
	}
	defer f.Close()
	return ReadConfig(f)
}
