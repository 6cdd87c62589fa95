// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_RecordAdmit(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordAdmit("debug")
	c.RecordAdmit("debug")

	assert.Equal(t, float64(2), counterValue(t, c.admits.WithLabelValues("debug")))
}

func TestPrometheusCollector_RecordHoldAndDeny(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordHold("batch", "grp_cpus")
	c.RecordDeny("batch", "max_submit_jobs")

	assert.Equal(t, float64(1), counterValue(t, c.holds.WithLabelValues("batch", "grp_cpus")))
	assert.Equal(t, float64(1), counterValue(t, c.denies.WithLabelValues("batch", "max_submit_jobs")))
}

func TestPrometheusCollector_SetUsageGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SetUsageGauge("assoc", "acct1/user1", "cpu", 42)

	m := &dto.Metric{}
	require.NoError(t, c.usage.WithLabelValues("assoc", "acct1/user1", "cpu").Write(m))
	assert.Equal(t, float64(42), m.GetGauge().GetValue())
}

func TestNoOpCollector(t *testing.T) {
	var c Collector = NoOpCollector{}

	assert.NotPanics(t, func() {
		c.RecordAdmit("x")
		c.RecordClip("x", "y")
		c.RecordHold("x", "y")
		c.RecordDeny("x", "y")
		c.RecordTimeout("x")
		c.RecordUnderflow("x")
		c.SetUsageGauge("x", "y", "z", 1)
	})
}

func TestDefaultCollector(t *testing.T) {
	original := GetDefaultCollector()
	defer SetDefaultCollector(original)

	SetDefaultCollector(nil)
	assert.Equal(t, NoOpCollector{}, GetDefaultCollector())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}
