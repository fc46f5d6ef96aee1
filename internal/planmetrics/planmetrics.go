// Package planmetrics implements prometheus.Collector for the wireup
// planner, mirroring the teacher's internal/collector.RdmaCollector: a
// struct of *prometheus.Desc fields plus a handful of running counters,
// with the last plan's outcome cached under a mutex and served on Collect.
package planmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lanewire/wireup/internal/wireup"
)

const namespace = "wireup"

// Collector is a prometheus.Collector over planning-call outcomes.
type Collector struct {
	plansTotal       prometheus.Counter
	plansFailedTotal prometheus.Counter
	amEmulatedTotal  prometheus.Counter

	laneCountDesc    *prometheus.Desc
	planDurationDesc *prometheus.Desc
	lastStatusDesc   *prometheus.Desc

	mu           sync.Mutex
	lastLanes    map[string]int
	lastDuration time.Duration
	lastOK       bool
}

// New returns an unregistered Collector ready for prometheus.Register.
func New() *Collector {
	return &Collector{
		plansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Total number of lane-selection planning calls.",
		}),
		plansFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_failed_total",
			Help:      "Total number of planning calls that returned UNREACHABLE.",
		}),
		amEmulatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "am_emulation_total",
			Help:      "Total number of planning calls that fell back to active-message emulation.",
		}),
		laneCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "plan", "lane_count"),
			"Number of lanes selected in the most recent plan, by category.",
			[]string{"category"},
			nil,
		),
		planDurationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "plan", "duration_seconds"),
			"Wall-clock duration of the most recent planning call.",
			nil,
			nil,
		),
		lastStatusDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "plan", "last_success"),
			"Whether the most recent planning call succeeded (1) or returned UNREACHABLE (0).",
			nil,
			nil,
		),
		lastLanes: make(map[string]int),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.plansTotal.Desc()
	ch <- c.plansFailedTotal.Desc()
	ch <- c.amEmulatedTotal.Desc()
	ch <- c.laneCountDesc
	ch <- c.planDurationDesc
	ch <- c.lastStatusDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- c.plansTotal
	ch <- c.plansFailedTotal
	ch <- c.amEmulatedTotal

	c.mu.Lock()
	lanes := make(map[string]int, len(c.lastLanes))
	for k, v := range c.lastLanes {
		lanes[k] = v
	}
	duration := c.lastDuration
	ok := c.lastOK
	c.mu.Unlock()

	for category, n := range lanes {
		ch <- prometheus.MustNewConstMetric(c.laneCountDesc, prometheus.GaugeValue, float64(n), category)
	}
	ch <- prometheus.MustNewConstMetric(c.planDurationDesc, prometheus.GaugeValue, duration.Seconds())
	status := 0.0
	if ok {
		status = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.lastStatusDesc, prometheus.GaugeValue, status)
}

// RecordPlan updates the collector's counters and cached lane-count snapshot
// after one selector.Plan call.
func (c *Collector) RecordPlan(out *wireup.Output, duration time.Duration, err error) {
	c.plansTotal.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastDuration = duration
	c.lastOK = err == nil

	if err != nil {
		c.plansFailedTotal.Inc()
		c.lastLanes = map[string]int{}
		return
	}

	if out.AMEmulated {
		c.amEmulatedTotal.Inc()
	}

	key := out.Key
	c.lastLanes = map[string]int{
		"total":   len(key.Lanes),
		"rma":     len(key.RMALanes),
		"rma_bw":  len(key.RMABWLanes),
		"amo":     len(key.AMOLanes),
		"am_bw":   len(key.AMBWLanes),
		"am":      boolCount(key.AMLane != wireup.NoLane),
		"tag":     boolCount(key.TAGLane != wireup.NoLane),
	}
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
