package wgpudev

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlitGroups_KeyedByFilter(t *testing.T) {
	var g blitGroups
	var created []int
	create := func(i int) (*wgpu.BindGroup, error) {
		created = append(created, i)
		return &wgpu.BindGroup{}, nil
	}

	nearest, err := g.get(gpu.FilterNearest, create)
	require.NoError(t, err)
	linear, err := g.get(gpu.FilterLinear, create)
	require.NoError(t, err)
	assert.NotSame(t, nearest, linear)

	again, err := g.get(gpu.FilterLinear, create)
	require.NoError(t, err)
	assert.Same(t, linear, again)
	again, err = g.get(gpu.FilterNearest, create)
	require.NoError(t, err)
	assert.Same(t, nearest, again)

	assert.Equal(t, []int{0, 1}, created)
}

func TestBlitGroups_CreateErrorNotCached(t *testing.T) {
	var g blitGroups
	_, err := g.get(gpu.FilterLinear, func(int) (*wgpu.BindGroup, error) {
		return nil, errors.New("out of memory")
	})
	require.Error(t, err)
	assert.Nil(t, g[1])

	bg, err := g.get(gpu.FilterLinear, func(int) (*wgpu.BindGroup, error) {
		return &wgpu.BindGroup{}, nil
	})
	require.NoError(t, err)
	assert.Same(t, bg, g[1])
}

func TestFilterIndex(t *testing.T) {
	assert.Equal(t, 0, filterIndex(gpu.FilterNearest))
	assert.Equal(t, 1, filterIndex(gpu.FilterLinear))
	assert.Equal(t, 0, filterIndex(gpu.FilterMode(42)))
}
