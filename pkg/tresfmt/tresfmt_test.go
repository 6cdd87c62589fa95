// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package tresfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindTRESCountInString(t *testing.T) {
	tests := []struct {
		name      string
		tresList  string
		key       string
		wantCount uint64
		wantOK    bool
	}{
		{"empty list", "", "cpu", 0, false},
		{"missing key", "mem=1024,node=2", "cpu", 0, false},
		{"found", "cpu=4,mem=1024,node=2", "mem", 1024, true},
		{"first entry", "cpu=8,mem=2048", "cpu", 8, true},
		{"infinite", "cpu=-1,mem=512", "cpu", ^uint64(0), true},
		{"malformed value", "cpu=abc", "cpu", 0, false},
		{"no equals sign", "cpu", "cpu", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, ok := FindTRESCountInString(tt.tresList, tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestParser_FindTRESCountInString(t *testing.T) {
	var p Parser
	count, ok := p.FindTRESCountInString("cpu=16", "cpu")
	assert.True(t, ok)
	assert.Equal(t, uint64(16), count)
}

func TestParseAll(t *testing.T) {
	got := ParseAll("cpu=4,mem=1024,bad,node=-1")
	assert.Equal(t, map[string]uint64{"cpu": 4, "mem": 1024, "node": ^uint64(0)}, got)
}

func TestParseAll_Empty(t *testing.T) {
	assert.Empty(t, ParseAll(""))
}

func TestFormat(t *testing.T) {
	got := Format(map[string]uint64{"node": 2, "cpu": 4, "mem": ^uint64(0)})
	assert.Equal(t, "cpu=4,mem=-1,node=2", got)
}

func TestFormat_RoundTrip(t *testing.T) {
	original := "cpu=4,mem=1024,node=2"
	counts := ParseAll(original)
	assert.Equal(t, original, Format(counts))
}
