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

package scan

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks scan-engine activity for export via Prometheus.
type Metrics struct {
	ActiveWorkers     prometheus.Gauge
	PartitionsScanned prometheus.Counter
	MessagesEvaluated prometheus.Counter
	PredicateMatches  prometheus.Counter
}

// NewMetrics registers scan-engine metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trifecta",
			Subsystem: "scan",
			Name:      "active_workers",
			Help:      "Number of scan worker goroutines currently running.",
		}),
		PartitionsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trifecta",
			Subsystem: "scan",
			Name:      "partitions_scanned_total",
			Help:      "Number of partition scan tasks completed.",
		}),
		MessagesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trifecta",
			Subsystem: "scan",
			Name:      "messages_evaluated_total",
			Help:      "Number of messages evaluated against scan predicates.",
		}),
		PredicateMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trifecta",
			Subsystem: "scan",
			Name:      "predicate_matches_total",
			Help:      "Number of messages that matched every predicate in a scan.",
		}),
	}
	registry.MustRegister(m.ActiveWorkers, m.PartitionsScanned, m.MessagesEvaluated, m.PredicateMatches)
	return m
}
