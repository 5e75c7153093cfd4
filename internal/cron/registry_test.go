package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	prune := &stubJob{name: "prune_markers"}
	vacuum := &stubJob{name: "vacuum_adjustments"}
	registry, err := NewRegistry(prune, nil, vacuum)
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Equal(t, []Job{prune, vacuum}, jobs)

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0])

	got, ok := registry.Lookup("vacuum_adjustments")
	require.True(t, ok)
	require.Same(t, vacuum, got)
	_, ok = registry.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryRejectsBadNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "prune_markers"}, &stubJob{name: "prune_markers"})
	require.ErrorContains(t, err, "already registered")

	var registry Registry
	require.Error(t, registry.Register(&stubJob{name: "  "}))
	require.Error(t, registry.Register(nil))
	require.NoError(t, registry.Register(&stubJob{name: "ok"}))
}
