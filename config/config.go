// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads trifecta's on-disk properties file and merges it
// under pflag-registered defaults, the same layering
// cli.CobraBindEnvironmentVariables applies for environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// DefaultPath is $HOME/.trifecta/config.properties, expanded at load time.
const DefaultPath = "~/.trifecta/config.properties"

// Expand resolves a leading "~" in path against the current user's home
// directory. Paths without a leading "~" are returned unchanged.
func Expand(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", xerrors.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Load reads a properties file at path (after "~" expansion) and binds it
// into v, which should already have its pflag defaults registered. A
// missing config file is not an error: the pflag defaults (and any
// environment variables cli.CobraBindEnvironmentVariables already merged)
// stand as-is.
func Load(v *viper.Viper, flags *pflag.FlagSet, path string) error {
	expanded, err := Expand(path)
	if err != nil {
		return err
	}
	if err := v.BindPFlags(flags); err != nil {
		return xerrors.Errorf("failed to bind flags: %w", err)
	}
	v.SetConfigType("properties")
	v.SetConfigFile(expanded)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return xerrors.Errorf("failed to read config file %s: %w", expanded, err)
	}
	return nil
}
