// Copyright 2026 The OpenTrusty Authors
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

package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsSource is satisfied by the tenant pool registry
type PoolStatsSource interface {
	PoolStats() map[string]*pgxpool.Stat
}

// PoolStatsCollector exports pgxpool statistics of every registered pool,
// labelled by pool ("main", "default" or a tenant id). Stats are read at
// scrape time.
type PoolStatsCollector struct {
	source PoolStatsSource

	acquiredConns   *prometheus.Desc
	idleConns       *prometheus.Desc
	totalConns      *prometheus.Desc
	maxConns        *prometheus.Desc
	acquireCount    *prometheus.Desc
	acquireDuration *prometheus.Desc
	emptyAcquire    *prometheus.Desc
	canceledAcquire *prometheus.Desc
}

// NewPoolStatsCollector creates a collector reading from source
func NewPoolStatsCollector(source PoolStatsSource) *PoolStatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("tenancy_pool_"+name, help, []string{"pool"}, nil)
	}
	return &PoolStatsCollector{
		source:          source,
		acquiredConns:   desc("acquired_conns", "Connections currently checked out"),
		idleConns:       desc("idle_conns", "Idle connections"),
		totalConns:      desc("total_conns", "Open connections"),
		maxConns:        desc("max_conns", "Maximum pool size"),
		acquireCount:    desc("acquire_total", "Successful acquisitions"),
		acquireDuration: desc("acquire_duration_seconds_total", "Time spent acquiring connections"),
		emptyAcquire:    desc("empty_acquire_total", "Acquisitions that had to wait for a connection"),
		canceledAcquire: desc("canceled_acquire_total", "Acquisitions cancelled by their context"),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.acquireDuration
	ch <- c.emptyAcquire
	ch <- c.canceledAcquire
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	for pool, s := range c.source.PoolStats() {
		ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(s.AcquiredConns()), pool)
		ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns()), pool)
		ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns()), pool)
		ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns()), pool)
		ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount()), pool)
		ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, s.AcquireDuration().Seconds(), pool)
		ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()), pool)
		ch <- prometheus.MustNewConstMetric(c.canceledAcquire, prometheus.CounterValue, float64(s.CanceledAcquireCount()), pool)
	}
}
