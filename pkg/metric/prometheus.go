// Copyright 2023 The gVisor Authors.
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

package metric

import (
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// exportPrefix is prepended to path-style metric names on export.
const exportPrefix = "lacd"

// exportName returns the Prometheus name of a metric. Path-style names such
// as "/syscalls/dispatched" become "lacd_syscalls_dispatched".
func exportName(name string) string {
	if !strings.HasPrefix(name, "/") {
		return name
	}
	return exportPrefix + strings.ReplaceAll(name, "/", "_")
}

// families groups samples into Prometheus metric families.
func families(samples []Sample) []*dto.MetricFamily {
	byName := make(map[string]*dto.MetricFamily)
	var order []string
	for _, s := range samples {
		fam, ok := byName[s.Name]
		if !ok {
			name, help := exportName(s.Name), s.Description
			typ := dto.MetricType_COUNTER
			if s.Kind == Gauge {
				typ = dto.MetricType_GAUGE
			}
			fam = &dto.MetricFamily{Name: &name, Help: &help, Type: &typ}
			byName[s.Name] = fam
			order = append(order, s.Name)
		}
		m := &dto.Metric{}
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			k, v := k, s.Labels[k]
			m.Label = append(m.Label, &dto.LabelPair{Name: &k, Value: &v})
		}
		v := float64(s.Value)
		if s.Kind == Gauge {
			m.Gauge = &dto.Gauge{Value: &v}
		} else {
			m.Counter = &dto.Counter{Value: &v}
		}
		fam.Metric = append(fam.Metric, m)
	}
	out := make([]*dto.MetricFamily, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// WritePrometheus writes all registered metrics to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, fam := range families(Snapshot()) {
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("encoding metric %q: %w", fam.GetName(), err)
		}
	}
	return nil
}

// ParsePrometheus parses text exposition data, as written by
// WritePrometheus, back into samples.
func ParsePrometheus(r io.Reader) ([]Sample, error) {
	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics: %w", err)
	}
	names := make([]string, 0, len(fams))
	for name := range fams {
		names = append(names, name)
	}
	sort.Strings(names)
	var samples []Sample
	for _, name := range names {
		fam := fams[name]
		for _, m := range fam.GetMetric() {
			s := Sample{Name: name, Description: fam.GetHelp()}
			switch fam.GetType() {
			case dto.MetricType_GAUGE:
				s.Kind = Gauge
				s.Value = uint64(m.GetGauge().GetValue())
			default:
				s.Kind = Counter
				s.Value = uint64(m.GetCounter().GetValue())
			}
			if len(m.GetLabel()) > 0 {
				s.Labels = make(map[string]string)
				for _, l := range m.GetLabel() {
					s.Labels[l.GetName()] = l.GetValue()
				}
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}
