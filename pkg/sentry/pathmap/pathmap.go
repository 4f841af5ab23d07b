// Copyright 2024 The gVisor Authors.
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

// Package pathmap maps guest paths to host namespaces.
//
// A Mapper holds an ordered set of prefix rules. Resolution picks the rule
// with the longest guest prefix matching the path on component boundaries;
// rules with the same prefix are ordered by priority. A rule for "/" is
// mandatory, so every path resolves to exactly one namespace.
//
// A Mapper is immutable once built and may be used concurrently without
// locking.
package pathmap

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Rule maps a guest path prefix to a host namespace prefix.
type Rule struct {
	// Guest is the guest path prefix, e.g. "/tmp".
	Guest string `toml:"guest" yaml:"guest" json:"guest"`

	// Host is the host namespace prefix, "scheme:root", e.g. "file:/tmp" or
	// "proc:".
	Host string `toml:"host" yaml:"host" json:"host"`

	// Priority orders rules with the same guest prefix. Higher wins.
	Priority int `toml:"priority" yaml:"priority" json:"priority"`

	// ReadOnly rejects mutating operations under this prefix.
	ReadOnly bool `toml:"read_only" yaml:"read_only" json:"read_only"`
}

// Namespace returns the scheme part of the host prefix.
func (r Rule) Namespace() string {
	scheme, _, _ := strings.Cut(r.Host, ":")
	return scheme
}

// root returns the path part of the host prefix.
func (r Rule) root() string {
	_, root, _ := strings.Cut(r.Host, ":")
	return root
}

// String implements fmt.Stringer.
func (r Rule) String() string {
	return fmt.Sprintf("%s -> %s (priority %d)", r.Guest, r.Host, r.Priority)
}

// DefaultRules returns the rule set used when no configuration overrides it.
func DefaultRules() []Rule {
	return []Rule{
		{Guest: "/", Host: "file:/"},
		{Guest: "/dev", Host: "file:/dev"},
		{Guest: "/proc", Host: "proc:"},
		{Guest: "/sys", Host: "sys:", ReadOnly: true},
		{Guest: "/tmp", Host: "file:/tmp"},
		{Guest: "/home", Host: "file:/home"},
	}
}

// Resolution is the result of resolving a guest path.
type Resolution struct {
	// Rule is the rule that matched.
	Rule Rule

	// Namespace is the host namespace, e.g. "file" or "proc".
	Namespace string

	// Path is the absolute path within the namespace.
	Path string

	// Relative is the guest path relative to the rule's guest prefix,
	// without a leading slash.
	Relative string
}

// Host returns the full host name, "namespace:path".
func (r Resolution) Host() string {
	return r.Namespace + ":" + r.Path
}

// Mapper resolves guest paths.
type Mapper struct {
	// rules is sorted by descending guest prefix length, then descending
	// priority.
	rules []Rule
}

// New validates rules and returns a Mapper. It fails if there is no rule for
// "/", if a rule is malformed, or if two rules share a prefix and priority.
func New(rules []Rule) (*Mapper, error) {
	m := &Mapper{rules: make([]Rule, 0, len(rules))}
	type key struct {
		guest    string
		priority int
	}
	seen := make(map[key]bool)
	hasRoot := false
	for _, r := range rules {
		if !path.IsAbs(r.Guest) {
			return nil, fmt.Errorf("path mapping %q: guest prefix must be absolute", r.Guest)
		}
		if !strings.Contains(r.Host, ":") || r.Namespace() == "" {
			return nil, fmt.Errorf("path mapping %q: host prefix %q must be of the form scheme:path", r.Guest, r.Host)
		}
		r.Guest = path.Clean(r.Guest)
		k := key{r.Guest, r.Priority}
		if seen[k] {
			return nil, fmt.Errorf("path mapping %q: duplicate rule with priority %d", r.Guest, r.Priority)
		}
		seen[k] = true
		if r.Guest == "/" {
			hasRoot = true
		}
		m.rules = append(m.rules, r)
	}
	if !hasRoot {
		return nil, fmt.Errorf("path mappings must include a rule for %q", "/")
	}
	sort.SliceStable(m.rules, func(i, j int) bool {
		a, b := m.rules[i], m.rules[j]
		if len(a.Guest) != len(b.Guest) {
			return len(a.Guest) > len(b.Guest)
		}
		return a.Priority > b.Priority
	})
	return m, nil
}

// MustNew calls New and panics on error.
func MustNew(rules []Rule) *Mapper {
	m, err := New(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Rules returns the rules in resolution order.
func (m *Mapper) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// hasPrefix returns the remainder of p after prefix if prefix matches p on a
// component boundary.
func hasPrefix(p, prefix string) (string, bool) {
	if prefix == "/" {
		return strings.TrimPrefix(p, "/"), true
	}
	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix) && p[len(prefix)] == '/' {
		return p[len(prefix)+1:], true
	}
	return "", false
}

// Clean returns the canonical absolute form of a guest path. Relative paths
// are taken relative to "/".
func Clean(p string) string {
	if !path.IsAbs(p) {
		p = "/" + p
	}
	return path.Clean(p)
}

// Resolve maps a guest path to its host namespace. It always succeeds.
func (m *Mapper) Resolve(p string) Resolution {
	p = Clean(p)
	for _, r := range m.rules {
		rel, ok := hasPrefix(p, r.Guest)
		if !ok {
			continue
		}
		return Resolution{
			Rule:      r,
			Namespace: r.Namespace(),
			Path:      path.Join("/", r.root(), rel),
			Relative:  rel,
		}
	}
	// Unreachable: New guarantees a root rule.
	panic(fmt.Sprintf("no path mapping for %q", p))
}
