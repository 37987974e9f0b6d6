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

// Package cdscubeutil holds the configuration and command glue for the
// cdscube command-line program.
package cdscubeutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatialmodel/cdscube"
	"github.com/spatialmodel/cdscube/cdsapi"
)

// Version is the release version of CDSCube.
const Version = "0.1.0"

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to CDSCube.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level sets the logging verbosity (debug, info, warn, error).`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "cdsapirc",
			usage: `
              cdsapirc specifies the location of the Climate Data Store API
              credentials file. The default is ~/.cdsapirc. The CDSAPI_URL and
              CDSAPI_KEY environment variables take precedence over the file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "variables",
			usage: `
              variables specifies the dataset variables to retrieve. The
              default is all of the dataset's variables.`,
			shorthand:  "v",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "bbox",
			usage: `
              bbox specifies the bounding box to retrieve as west,south,east,north
              in degrees. The default is the dataset's full extent.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "begin",
			usage: `
              begin specifies the beginning of the time range to retrieve
              (inclusive), e.g. 2019-01-01 or 2019-01-01T12:00:00.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "end",
			usage: `
              end specifies the end of the time range to retrieve (inclusive).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "product_type",
			usage: `
              product_type selects a retrieval variant for datasets that have
              more than one, for example "ensemble_mean". The default is the
              dataset's first declared product type.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output specifies the NetCDF file to write the result to.`,
			shorthand:  "o",
			defaultVal: "cube.nc",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "cache_dir",
			usage: `
              cache_dir specifies a directory for caching downloaded payloads
              on disk. Caching is disabled when empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
		{
			name: "mem_cache",
			usage: `
              mem_cache specifies the number of downloaded payloads to hold in
              an in-memory cache.`,
			defaultVal: 4,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CDSCUBE")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(datasetsCmd)
	Root.AddCommand(describeCmd)
	Root.AddCommand(schemaCmd)
	Root.AddCommand(fetchCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and initializes logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("cdscube: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("cdscube: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cdscube",
	Short: "Retrieve Climate Data Store datasets as normalized data cubes.",
	Long: `CDSCube maps generic geospatial time-series requests onto the Copernicus
Climate Data Store archive and normalizes the heterogeneous responses into
uniform data cubes. Use the subcommands specified below to list the available
datasets, inspect their request parameters, and retrieve data.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CDSCUBE_var' where 'var' is
the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of CDSCube.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("CDSCube v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the available datasets.",
	Long:  "datasets lists the identifier and description of each available dataset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := cdscube.DefaultRegistry()
		for _, id := range reg.Identifiers() {
			desc, err := reg.Describe(id)
			if err != nil {
				return err
			}
			cmd.Printf("%-45s %s\n", id, desc.Description)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var describeCmd = &cobra.Command{
	Use:   "describe [dataset]",
	Short: "Describe one dataset.",
	Long: `describe prints the metadata of one dataset: its time range and
granularity, spatial extent and resolution, product types, and variables.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := cdscube.DefaultRegistry().Describe(args[0])
		if err != nil {
			return err
		}
		printDescriptor(cmd, desc)
		return nil
	},
	DisableAutoGenTag: true,
}

var schemaCmd = &cobra.Command{
	Use:   "schema [dataset]",
	Short: "Print the open parameter schema of one dataset.",
	Long: `schema prints, as JSON, the parameters accepted when opening one
dataset, including enumerations, defaults, and allowed ranges.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := cdscube.BuildSchema(cdscube.DefaultRegistry(), args[0])
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(schema.Parameters, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(b))
		return nil
	},
	DisableAutoGenTag: true,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [dataset]",
	Short: "Retrieve a dataset slice and write it to a NetCDF file.",
	Long: `fetch validates the requested variables, bounding box, and time range
against the dataset's parameter schema, retrieves the data from the Climate
Data Store, and writes the normalized cube to a NetCDF file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := openRequest(Cfg, args[0])
		if err != nil {
			return err
		}
		apiCfg, err := cdsapi.LoadConfig(Cfg.GetString("cdsapirc"))
		if err != nil {
			return err
		}
		var fetcher cdscube.Fetcher = cdsapi.NewClient(apiCfg)
		if n := Cfg.GetInt("mem_cache"); n > 0 || Cfg.GetString("cache_dir") != "" {
			fetcher = cdsapi.NewCachingFetcher(fetcher, n, os.ExpandEnv(Cfg.GetString("cache_dir")))
		}
		store := cdscube.NewStore(cdscube.DefaultRegistry(), fetcher)
		cube, err := store.OpenRequest(context.Background(), req)
		if err != nil {
			return err
		}
		output := os.ExpandEnv(Cfg.GetString("output"))
		w, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("cdscube: creating output file: %v", err)
		}
		defer w.Close()
		if err := WriteCube(w, cube); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"file":  output,
			"shape": cube.Shape(),
		}).Info("cdscube: wrote cube")
		return nil
	},
	DisableAutoGenTag: true,
}

func printDescriptor(cmd *cobra.Command, desc *cdscube.DatasetDescriptor) {
	cmd.Printf("%s: %s\n", desc.Identifier, desc.Description)
	cmd.Printf("  CRS:        %s\n", desc.CRS)
	cmd.Printf("  Extent:     [%g, %g, %g, %g]\n",
		desc.Bounds.Min.X, desc.Bounds.Min.Y, desc.Bounds.Max.X, desc.Bounds.Max.Y)
	if desc.SpatialResolution > 0 {
		cmd.Printf("  Resolution: %g°\n", desc.SpatialResolution)
	}
	cmd.Printf("  Period:     %s\n", desc.TimePeriod)
	if desc.OpenEnded() {
		cmd.Printf("  Time range: %s onward\n", desc.TimeStart.Format("2006-01-02"))
	} else {
		cmd.Printf("  Time range: %s to %s\n",
			desc.TimeStart.Format("2006-01-02"), desc.TimeEnd.Format("2006-01-02"))
	}
	for _, pt := range desc.ProductTypes {
		cmd.Printf("  Product type: %s (%s)\n", pt.Code, pt.Label)
	}
	for _, v := range desc.Variables {
		cmd.Printf("  Variable: %-40s %s [%s]\n", v.RequestName, v.LongName, v.Units)
	}
}
