package system

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/keagan/artcannon/internal/errs"
)

func TestWorkerCount(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, 3, m.WorkerCount(ctx, 3))
	assert.GreaterOrEqual(t, m.WorkerCount(ctx, 0), 1)
}

func TestCheckDisk(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	ctx := context.Background()
	dir := t.TempDir()

	assert.NoError(t, m.CheckDisk(ctx, dir, 0))
	assert.NoError(t, m.CheckDisk(ctx, dir, 1))

	err := m.CheckDisk(ctx, dir, math.MaxUint64)
	if err != nil {
		assert.True(t, errs.Is(err, errs.KindResourceExhausted))
		resource, _ := errs.Detail(err, "resource")
		assert.Equal(t, "disk", resource)
	}
}

func TestCheckMemory(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	ctx := context.Background()

	assert.NoError(t, m.CheckMemory(ctx, 0))
	if err := m.CheckMemory(ctx, math.MaxUint64); err != nil {
		assert.True(t, errs.Is(err, errs.KindResourceExhausted))
	}
}

func TestSnapshot(t *testing.T) {
	s := NewMonitor(zerolog.Nop()).Snapshot(context.Background(), t.TempDir())
	assert.GreaterOrEqual(t, s.LogicalCPUs, 0)
}
