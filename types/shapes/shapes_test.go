package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 1, 3, 224, 224)
	require.True(t, s.Ok())
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, 1*3*224*224, s.Size())
	assert.Equal(t, uintptr(1*3*224*224*4), s.Memory())
	assert.Equal(t, "(Float32)[1 3 224 224]", s.String())

	s2 := s.Clone()
	require.True(t, s.Equal(s2))
	s2.Dimensions[3] = 225
	assert.False(t, s.Equal(s2))
	assert.Equal(t, 224, s.Dimensions[3]) // Clone must not share the dims slice.

	assert.False(t, s.Equal(Make(dtypes.Float16, 1, 3, 224, 224)))
	assert.True(t, s.EqualDimensions(Make(dtypes.Float16, 1, 3, 224, 224)))
	assert.False(t, Invalid().Ok())

	scalar := Make(dtypes.Int64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
}

func TestMakePanicsOnBadDim(t *testing.T) {
	require.Panics(t, func() { Make(dtypes.Float32, 2, 0) })
	require.Panics(t, func() { Make(dtypes.Float32, -1) })
}
