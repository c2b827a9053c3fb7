/*
 *	Copyright 2024 The VoxelML Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, 4, tensor.Size())
	assert.Equal(t, []float32{1, 2, 3, 4}, CopyFlatData[float32](tensor))

	require.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) }, "wrong number of values")
	require.Panics(t, func() { CopyFlatData[float64](tensor) }, "wrong dtype access")
}

func TestScalars(t *testing.T) {
	tensor := FromScalar(float64(3.5))
	assert.True(t, tensor.Shape().IsScalar())
	assert.Equal(t, 3.5, ToScalar[float64](tensor))

	require.Panics(t, func() {
		ToScalar[float64](FromFlatDataAndDimensions([]float64{1, 2}, 2))
	}, "ToScalar of non-scalar")
}

func TestMutationAndEqual(t *testing.T) {
	a := FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	b := a.Clone()
	assert.True(t, a.Equal(b))

	MutableFlatData[int32](b, func(flat []int32) { flat[1] = 7 })
	assert.False(t, a.Equal(b))

	AssignFlatData(b, []int32{1, 2, 3})
	assert.True(t, a.Equal(b))
}

func TestFlatFloat64(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{0.5, 1.5}, 2)
	assert.Equal(t, []float64{0.5, 1.5}, tensor.FlatFloat64())

	f16 := FromFlatDataAndDimensions([]float16.Float16{
		float16.Fromfloat32(0.25), float16.Fromfloat32(2)}, 2)
	assert.Equal(t, dtypes.Float16, f16.DType())
	assert.Equal(t, []float64{0.25, 2}, f16.FlatFloat64())

	require.Panics(t, func() {
		FromFlatDataAndDimensions([]int32{1}, 1).FlatFloat64()
	}, "FlatFloat64 of int tensor")
}

func TestFromFlatFloat64(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 2)
	tensor := FromFlatFloat64(shape, []float64{0.5, 4})
	assert.Equal(t, []float64{0.5, 4}, tensor.FlatFloat64())

	require.Panics(t, func() { FromFlatFloat64(shape, []float64{1}) }, "wrong number of values")
	require.Panics(t, func() {
		FromFlatFloat64(shapes.Make(dtypes.Int64, 1), []float64{1})
	}, "non-float dtype")
}
