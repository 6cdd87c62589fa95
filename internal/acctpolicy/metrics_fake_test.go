// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import "github.com/jrandall/slurm/pkg/metrics"

// fakeCollector records each Collector call it receives, so a test can
// assert the engine's decision paths actually drive it instead of just
// not panicking.
type fakeCollector struct {
	admits   []string
	clips    [][2]string
	holds    [][2]string
	denies   [][2]string
	timeouts []string
}

var _ metrics.Collector = (*fakeCollector)(nil)

func (f *fakeCollector) RecordAdmit(partition string) { f.admits = append(f.admits, partition) }
func (f *fakeCollector) RecordClip(partition, limitName string) {
	f.clips = append(f.clips, [2]string{partition, limitName})
}
func (f *fakeCollector) RecordHold(partition, limitName string) {
	f.holds = append(f.holds, [2]string{partition, limitName})
}
func (f *fakeCollector) RecordDeny(partition, limitName string) {
	f.denies = append(f.denies, [2]string{partition, limitName})
}
func (f *fakeCollector) RecordTimeout(partition string) { f.timeouts = append(f.timeouts, partition) }
func (f *fakeCollector) RecordUnderflow(counterName string) {}
func (f *fakeCollector) SetUsageGauge(scope, name, tresName string, value float64) {}
