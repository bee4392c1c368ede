// Package manifest provides a read-only view over TACT's BuildConfig and
// CDNConfig text format: whitespace-separated "key = value" lines, one
// per line, values sometimes being space-separated lists (spec.md §6).
// No teacher analogue exists for this wire format (the teacher's own
// manifests are CAR/CID-shaped), so this is a small hand-rolled scanner.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// View is a parsed key=value config file, exposing just enough to hand
// EncodingEKey/RootCKey to the CAS layer (spec.md §6). Resolving a build's
// root file listing by name is explicitly out of scope (spec.md Non-goals).
type View struct {
	values map[string]string
}

// Parse reads a BuildConfig/CDNConfig stream into a View.
func Parse(r io.Reader) (*View, error) {
	v := &View{values: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("manifest: malformed line %q", line)
		}
		v.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: scan: %w", err)
	}
	return v, nil
}

// Get returns a raw value by key.
func (v *View) Get(key string) (string, bool) {
	s, ok := v.values[key]
	return s, ok
}

// GetList splits a space-separated value list (common for fields like
// "encoding" that list both a CKey and its EKey variants).
func (v *View) GetList(key string) ([]string, bool) {
	s, ok := v.values[key]
	if !ok {
		return nil, false
	}
	return strings.Fields(s), true
}

// EncodingEKey returns the "encoding" field's second token, TACT's
// convention of listing "<ckey> <ekey>" for the encoding file reference.
func (v *View) EncodingEKey() (string, bool) {
	parts, ok := v.GetList("encoding")
	if !ok || len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}

// RootCKey returns the "root" field's first token.
func (v *View) RootCKey() (string, bool) {
	parts, ok := v.GetList("root")
	if !ok || len(parts) == 0 {
		return "", false
	}
	return parts[0], true
}
