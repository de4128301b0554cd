// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "MIGRATE_CONFIG_PREFIX" // Directory holding the configuration files.
	EnvConfigRuntime    = "MIGRATE_RUNTIME"       // Runtime selecting the override file, e.g. "local" or "test".
	DefaultRuntime      = "local"
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig decodes `<prefix>/.env.toml` and then `<prefix>/.env.<runtime>.toml`
// into baseConfig, so values of the runtime file override the base file.
// Missing files are skipped.
func LoadConfig(baseConfig interface{}) error {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	runtime := os.Getenv(EnvConfigRuntime)
	if runtime == "" {
		runtime = DefaultRuntime
	}

	baseConfigFileName := prefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := prefix + ConfigFileBaseName + ConfigSeparator + runtime + ConfigFileExtension

	for _, name := range []string{baseConfigFileName, envConfigFileName} {
		if !fileExists(name) {
			slog.Debug("configuration file not found", "file", name)
			continue
		}
		md, err := toml.DecodeFile(name, baseConfig)
		if err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", name, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			slog.Warn("unknown configuration keys", "file", name, "keys", fmt.Sprint(undecoded))
		}
		slog.Debug("loaded configuration file", "file", name)
	}
	return nil
}
