// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package acctpolicy

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBinder struct {
	bind func(ctx context.Context, job *Job) error
}

func (f *fakeBinder) FillInAssoc(ctx context.Context, job *Job) error {
	return f.bind(ctx, job)
}

type fakeTRESParser struct {
	counts map[string]uint64
}

func (f *fakeTRESParser) FindTRESCountInString(tresList, key string) (uint64, bool) {
	v, ok := f.counts[key]
	return v, ok
}

func TestBindAssoc_AlreadyBound_IsNoOp(t *testing.T) {
	c := testCtx()
	assoc := &Association{ID: 99}
	job := &Job{Assoc: assoc}

	require.NoError(t, c.bindAssoc(context.Background(), job))
	assert.Same(t, assoc, job.Assoc)
}

func TestBindAssoc_UsesInjectedBinderFirst(t *testing.T) {
	c := testCtx()
	want := &Association{ID: 7}
	c.Hooks.Assoc = &fakeBinder{bind: func(ctx context.Context, job *Job) error {
		job.Assoc = want
		return nil
	}}
	job := &Job{AccountName: "acct", UserID: 1}

	require.NoError(t, c.bindAssoc(context.Background(), job))
	assert.Same(t, want, job.Assoc)
}

func TestBindAssoc_FallsBackToTableLookupWhenBinderFails(t *testing.T) {
	c := testCtx()
	c.Hooks.Assoc = &fakeBinder{bind: func(ctx context.Context, job *Job) error {
		return stderrors.New("external lookup unavailable")
	}}
	found := &Association{ID: 5, Account: "acct1", User: userIDKey(42), Partition: "debug"}
	c.Assoc.Insert(found)
	job := &Job{AccountName: "acct1", UserID: 42, PartitionName: "debug"}

	require.NoError(t, c.bindAssoc(context.Background(), job))
	assert.Same(t, found, job.Assoc)
}

func TestBindAssoc_NoBinderFallsDirectlyToTableLookup(t *testing.T) {
	c := testCtx()
	found := &Association{ID: 5, Account: "acct1", User: userIDKey(42), Partition: "debug"}
	c.Assoc.Insert(found)
	job := &Job{AccountName: "acct1", UserID: 42, PartitionName: "debug"}

	require.NoError(t, c.bindAssoc(context.Background(), job))
	assert.Same(t, found, job.Assoc)
}

func TestBindAssoc_UnresolvableReturnsAssocNotFound(t *testing.T) {
	c := testCtx()
	job := &Job{AccountName: "nonexistent", UserID: 1}

	err := c.bindAssoc(context.Background(), job)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errAssocNotFound))
	assert.Nil(t, job.Assoc)
}

func TestLoadTRESVector_NoParserDefaultsToInfinite(t *testing.T) {
	c := testCtx()
	v := c.LoadTRESVector("cpu=4,mem=1024")
	for _, limit := range v {
		assert.Equal(t, Infinite, limit)
	}
}

func TestLoadTRESVector_ParsesKnownKeysAndDefaultsRest(t *testing.T) {
	c := testCtx()
	c.Hooks.TRES = &fakeTRESParser{counts: map[string]uint64{TRESCPU: 4, TRESMem: 1024}}

	v := c.LoadTRESVector("cpu=4,mem=1024")

	cpuIdx, _ := c.TRES.IndexOf(TRESCPU)
	memIdx, _ := c.TRES.IndexOf(TRESMem)
	nodeIdx, _ := c.TRES.IndexOf(TRESNode)

	assert.Equal(t, uint64(4), v[cpuIdx])
	assert.Equal(t, uint64(1024), v[memIdx])
	assert.Equal(t, Infinite, v[nodeIdx], "a tres the parser didn't mention must default to unlimited")
}
