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

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type sections map[string]map[string]string

type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a StateStore backed by a YAML file at path. The file
// is created on first write.
func NewFileStore(path string) (StateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return nil, fmt.Errorf("state directory %s is not writable: %w", dir, err)
	}
	os.Remove(testFile)

	klog.InfoS("initialized state store", "path", path)

	return &fileStore{path: path}, nil
}

func (s *fileStore) Get(section, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[section][key]
	return v, ok, nil
}

func (s *fileStore) Set(section, key, value string) error {
	if section == "" || key == "" {
		return fmt.Errorf("section and key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if data[section] == nil {
		data[section] = make(map[string]string)
	}
	data[section][key] = value
	return s.write(data)
}

func (s *fileStore) Delete(section string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[section]; !ok {
		return nil
	}
	delete(data, section)
	if err := s.write(data); err != nil {
		return err
	}

	klog.V(1).InfoS("deleted state section", "section", section)
	return nil
}

func (s *fileStore) DeleteKey(section, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[section][key]; !ok {
		return nil
	}
	delete(data[section], key)
	if len(data[section]) == 0 {
		delete(data, section)
	}
	return s.write(data)
}

func (s *fileStore) Keys(section string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data[section]))
	for k := range data[section] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the whole file. A missing file is empty state; a corrupt file
// is logged and also treated as empty so the daemon starts from scratch.
func (s *fileStore) load() (sections, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(sections), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	data := make(sections)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		klog.ErrorS(err, "state file is corrupt, ignoring prior state", "path", s.path)
		return make(sections), nil
	}
	if data == nil {
		data = make(sections)
	}
	return data, nil
}

func (s *fileStore) write(data sections) error {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
