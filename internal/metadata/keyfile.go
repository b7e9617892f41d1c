// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// keyFile is a parsed desktop-entry style file: [section] headers, key=value
// lines, '#' comments and key[locale]=value overrides.
type keyFile map[string]map[string]string

func parseKeyFile(r io.Reader) (keyFile, error) {
	kf := keyFile{}
	section := ""
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: malformed section header %q", lineNo, line)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			if kf[section] == nil {
				kf[section] = map[string]string{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key=value, got %q", lineNo, line)
		}
		if section == "" {
			return nil, fmt.Errorf("line %d: key %q outside of any section", lineNo, strings.TrimSpace(key))
		}
		kf[section][strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keyfile: %w", err)
	}
	return kf, nil
}

func (kf keyFile) get(section, key, locale string) string {
	values := kf[section]
	if values == nil {
		return ""
	}
	if locale != "" {
		if v, ok := values[key+"["+locale+"]"]; ok {
			return v
		}
	}
	return values[key]
}

func (kf keyFile) getBool(section, key, locale string) (bool, error) {
	v := kf.get(section, key, locale)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, fmt.Errorf("key %s in [%s] is not a boolean: %q", key, section, v)
	}
	return b, nil
}
