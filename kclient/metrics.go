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

package kclient

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spothero/trifecta/log"
	"go.uber.org/zap"
)

// Metrics bridges sarama's internal go-metrics registry to Prometheus
// gauges, scoped to a single runtime.Context rather than the package-global
// registries sarama otherwise favors. Own one Metrics per runtime and pass
// its Registry into every Config so all partition consumers report into the
// same gauge set.
type Metrics struct {
	Registry gometrics.Registry
	clientID string
	gauges   map[string]*prometheus.GaugeVec
	cancel   context.CancelFunc
}

// NewMetrics creates a fresh go-metrics registry and starts a periodic task
// that exports it to Prometheus gauges under the "sarama" namespace until ctx
// is canceled or Stop is called.
func NewMetrics(ctx context.Context, clientID string, updateInterval time.Duration) *Metrics {
	ctx, cancel := context.WithCancel(ctx)
	m := &Metrics{
		Registry: gometrics.NewRegistry(),
		clientID: clientID,
		gauges:   make(map[string]*prometheus.GaugeVec),
		cancel:   cancel,
	}
	ticker := time.NewTicker(updateInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.update(ctx)
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
	return m
}

// Stop halts the periodic export task.
func (m *Metrics) Stop() { m.cancel() }

func (m *Metrics) update(ctx context.Context) {
	m.Registry.Each(func(name string, i interface{}) {
		var value float64
		switch metric := i.(type) {
		case gometrics.Meter:
			value = metric.Snapshot().Rate1()
		case gometrics.Histogram:
			values := metric.Snapshot().Sample().Values()
			if len(values) > 0 {
				value = float64(values[len(values)-1])
			}
		default:
			log.Get(ctx).Warn("unknown sarama metric type", zap.String("type", reflect.TypeOf(metric).String()))
			return
		}
		promName := strings.ReplaceAll(name, "-", "_")
		gauge, ok := m.gauges[promName]
		if !ok {
			gauge = prometheus.NewGaugeVec(
				prometheus.GaugeOpts{Namespace: "sarama", Name: promName, Help: name},
				[]string{"client"},
			)
			prometheus.MustRegister(gauge)
			m.gauges[promName] = gauge
		}
		gauge.With(prometheus.Labels{"client": m.clientID}).Set(value)
	})
}
