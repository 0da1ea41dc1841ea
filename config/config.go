// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads process configuration for the table sink tooling.
package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Sink     SinkConfig     `mapstructure:"sink"`
	Commit   CommitConfig   `mapstructure:"commit"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Frontend FrontendConfig `mapstructure:"frontend"`
}

// SinkConfig carries sink defaults.
type SinkConfig struct {
	// BytesPerFile is the default per-file size budget.
	BytesPerFile int64 `mapstructure:"bytes_per_file"`
	// FileFormat is the default data file format.
	FileFormat string `mapstructure:"file_format"`
	// FileNamePrefix is the default generated file name prefix.
	FileNamePrefix string `mapstructure:"file_name_prefix"`
}

// CommitConfig controls the metadata commit RPC.
type CommitConfig struct {
	// RPCTimeoutMillis bounds each add-files RPC attempt.
	RPCTimeoutMillis int64 `mapstructure:"rpc_timeout_ms"`
}

// StorageConfig selects the object storage target.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	Bucket    string `mapstructure:"bucket"`
	TmpDir    string `mapstructure:"tmp_dir"`
}

// FrontendConfig locates the metadata service and identifies this node.
type FrontendConfig struct {
	Addr   string `mapstructure:"addr"`
	NodeID int64  `mapstructure:"node_id"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	return &Config{
		Sink: SinkConfig{
			BytesPerFile:   512 * 1024 * 1024,
			FileFormat:     "parquet",
			FileNamePrefix: "data",
		},
		Commit: CommitConfig{
			RPCTimeoutMillis: 10_000,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "TABLESINK" and the dot character in
// keys is replaced by an underscore. For example, "frontend.addr" becomes
// "TABLESINK_FRONTEND_ADDR".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TABLESINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
