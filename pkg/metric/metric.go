// Copyright 2018 The gVisor Authors.
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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"gvisor.dev/lacd/pkg/log"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInitializationDone indicates that the caller tried to create a
	// new metric after initialization.
	ErrInitializationDone = errors.New("metric cannot be created after initialization is complete")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Kind distinguishes monotonic counters from instantaneous gauges.
type Kind int

const (
	// Counter only ever increases.
	Counter Kind = iota

	// Gauge may go up and down.
	Gauge
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper maps a combination of field values to a single integer key.
type fieldMapper struct {
	fields []Field
	index  []map[string]int
	keys   int
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	m := fieldMapper{fields: fields, keys: 1}
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		m.keys *= len(f.allowedValues)
		if m.keys > math.MaxUint32 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
		idx := make(map[string]int, len(f.allowedValues))
		for i, v := range f.allowedValues {
			idx[v] = i
		}
		m.index = append(m.index, idx)
	}
	return m, nil
}

// lookup returns the key of a field value combination. It must be called
// with exactly one value per field and panics on a disallowed value.
func (m fieldMapper) lookup(values ...string) int {
	if len(values) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	key := 0
	for i, v := range values {
		vi, ok := m.index[i][v]
		if !ok {
			panic("disallowed field value " + v)
		}
		key = key*len(m.fields[i].allowedValues) + vi
	}
	return key
}

// keyToFields is the inverse of lookup.
func (m fieldMapper) keyToFields(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	values := make([]string, len(m.fields))
	for i := len(m.fields) - 1; i >= 0; i-- {
		n := len(m.fields[i].allowedValues)
		values[i] = m.fields[i].allowedValues[key%n]
		key /= n
	}
	return values
}

// metadata describes a registered metric.
type metadata struct {
	name        string
	description string
	kind        Kind
	fields      []Field
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored.
//
// Metrics are not saved across save/restore and thus reset to zero on
// restore.
type Uint64Metric struct {
	metadata
	mapper fieldMapper

	// values holds one value per field combination.
	values []atomic.Uint64
}

// customUint64Metric is a metric whose value is computed on demand.
type customUint64Metric struct {
	metadata
	value func() uint64
}

var (
	// mu protects the registry below.
	mu          sync.Mutex
	initialized bool
	allMetrics  = make(map[string]any)
)

// Initialize freezes the set of registered metrics. Metrics may not be
// created afterwards.
func Initialize() {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return
	}
	initialized = true
	log.Debugf("Metrics initialized with %d metrics", len(allMetrics))
}

func register(name string, m any) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return ErrInitializationDone
	}
	if _, ok := allMetrics[name]; ok {
		return ErrNameInUse
	}
	allMetrics[name] = m
	return nil
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name string, kind Kind, description string, fields ...Field) (*Uint64Metric, error) {
	mapper, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		metadata: metadata{name: name, description: description, kind: kind, fields: fields},
		mapper:   mapper,
		values:   make([]atomic.Uint64, mapper.keys),
	}
	if err := register(name, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, kind Kind, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, kind, description, fields...)
	if err != nil {
		panic("Unable to create metric " + name + ": " + err.Error())
	}
	return m
}

// RegisterCustomUint64Metric registers a field-less metric whose value is
// computed by calling value at export time.
func RegisterCustomUint64Metric(name string, kind Kind, description string, value func() uint64) error {
	return register(name, &customUint64Metric{
		metadata: metadata{name: name, description: description, kind: kind},
		value:    value,
	})
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.mapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.mapper.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.mapper.lookup(fieldValues...)].Add(v)
}

// Set sets the value of a gauge.
func (m *Uint64Metric) Set(v uint64, fieldValues ...string) {
	m.values[m.mapper.lookup(fieldValues...)].Store(v)
}

// Sample is one exported metric value.
type Sample struct {
	Name        string
	Description string
	Kind        Kind
	Labels      map[string]string
	Value       uint64
}

// Snapshot returns the current value of every registered metric, sorted by
// name. Field combinations that were never touched are omitted.
func Snapshot() []Sample {
	mu.Lock()
	names := make([]string, 0, len(allMetrics))
	for name := range allMetrics {
		names = append(names, name)
	}
	metrics := make([]any, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics[name])
	}
	mu.Unlock()

	var samples []Sample
	for _, m := range metrics {
		switch m := m.(type) {
		case *Uint64Metric:
			for key := range m.values {
				v := m.values[key].Load()
				if v == 0 && len(m.fields) > 0 {
					continue
				}
				var labels map[string]string
				if values := m.mapper.keyToFields(key); len(values) > 0 {
					labels = make(map[string]string, len(values))
					for i, f := range m.fields {
						labels[f.name] = values[i]
					}
				}
				samples = append(samples, Sample{Name: m.name, Description: m.description, Kind: m.kind, Labels: labels, Value: v})
			}
		case *customUint64Metric:
			samples = append(samples, Sample{Name: m.name, Description: m.description, Kind: m.kind, Value: m.value()})
		}
	}
	return samples
}
