package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordDispatch(coremetrics.DispatchEvent) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordTransition(coremetrics.TransitionEvent) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordJob(coremetrics.JobEvent) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordSession(string, int) error {
	r.count++
	return r.err
}

type dispatchOnly struct{ count int }

func (d *dispatchOnly) RecordDispatch(coremetrics.DispatchEvent) error {
	d.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	d := &dispatchOnly{}
	m := NewMultiSink(s1, s2, d)

	require.NoError(t, m.RecordDispatch(coremetrics.DispatchEvent{}))
	require.NoError(t, m.RecordTransition(coremetrics.TransitionEvent{}))
	require.NoError(t, m.RecordJob(coremetrics.JobEvent{}))
	require.NoError(t, m.RecordSession("collector", 1))

	assert.Equal(t, 4, s1.count)
	assert.Equal(t, 4, s2.count)
	assert.Equal(t, 1, d.count)
}

func TestMultiSink_ContinuesAfterError(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordSink{err: boom}
	ok := &recordSink{}
	m := NewMultiSink(failing, ok)

	err := m.RecordJob(coremetrics.JobEvent{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.count)
}
