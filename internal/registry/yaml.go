package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type fileV1 struct {
	IDs map[string]string `yaml:"ids"`
}

// LoadYAML reads an override file of the form {ids: {"<n>": "ns:name"}}.
// A missing file yields an empty registry.
func LoadYAML(path string) (*IdRegistry, error) {
	r := New()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	var f fileV1
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range f.IDs {
		n, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: bad numerical id %q", path, k)
		}
		id, err := ParseNamespacedID(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := r.Register(uint32(n), id); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return r, nil
}

func (r *IdRegistry) WriteYAML(path string) error {
	f := fileV1{IDs: map[string]string{}}
	for _, it := range r.Items() {
		f.IDs[strconv.FormatUint(uint64(it.Numerical), 10)] = it.ID.String()
	}
	b, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
