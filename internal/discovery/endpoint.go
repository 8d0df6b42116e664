package discovery

import (
	"fmt"
	"strings"
)

// FunctionKeyPrefix marks per-function path overrides in an endpoint map.
const FunctionKeyPrefix = "endpoint:"

// Endpoint describes one running instance of a model.
type Endpoint struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	URL       string            `json:"url"`
	Functions map[string]string `json:"functions,omitempty"` // sub-function → path
}

// Validate checks the fields a registration must carry.
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint %q: url is required", e.Name)
	}
	return nil
}

// ToMap renders the endpoint the way expressions see it:
// name, version, url, plus one "endpoint:<fn>" key per function override.
func (e Endpoint) ToMap() map[string]any {
	m := map[string]any{
		"name":    e.Name,
		"version": e.Version,
		"url":     e.URL,
	}
	for fn, path := range e.Functions {
		m[FunctionKeyPrefix+fn] = path
	}
	return m
}

// FromMap is the inverse of ToMap. Unknown keys are ignored.
func FromMap(m map[string]any) (Endpoint, error) {
	var e Endpoint
	var err error
	if e.Name, err = stringField(m, "name"); err != nil {
		return Endpoint{}, err
	}
	if e.Version, err = stringField(m, "version"); err != nil {
		return Endpoint{}, err
	}
	if e.URL, err = stringField(m, "url"); err != nil {
		return Endpoint{}, err
	}
	for k, v := range m {
		fn, ok := strings.CutPrefix(k, FunctionKeyPrefix)
		if !ok {
			continue
		}
		path, ok := v.(string)
		if !ok {
			return Endpoint{}, fmt.Errorf("endpoint key %q must be a string, got %T", k, v)
		}
		if e.Functions == nil {
			e.Functions = make(map[string]string)
		}
		e.Functions[fn] = path
	}
	return e, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("endpoint field %q must be a string, got %T", key, v)
	}
	return s, nil
}

// normalizeURL makes "http://h/" and "http://h" name the same instance.
func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}
