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

// Package tensors implements Local, a host (CPU) multi-dimensional array.
//
// A Local tensor is defined by its shape (a dtype plus axes dimensions, see
// the shapes package) and its content, stored as a flat slice of the
// underlying dtype. It is the currency of the VoxelML engine outside
// computation graphs: variable values, checkpoint entries and evaluated graph
// nodes are all Local tensors.
//
// Ways to construct a Local:
//
//   - FromShape(shape): a tensor with the given shape and zero values.
//   - FromScalar[T](value): a scalar tensor.
//   - FromFlatDataAndDimensions[T](data, dimensions...): a tensor with the
//     given dimensions, with the flattened values set to data.
//   - FromFlatFloat64(shape, values): converts float64 values to the shape's
//     (float) dtype. Used by the graph evaluator.
package tensors

import (
	"bytes"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/x448/float16"
)

// Local is a tensor materialized in host memory, stored as a flat slice of
// the underlying dtype.
type Local struct {
	shape shapes.Shape
	data  []byte
}

// FromShape creates a Local with the given shape, filled with zeros.
func FromShape(shape shapes.Shape) *Local {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	return &Local{shape: shape, data: make([]byte, shape.Memory())}
}

// FromScalar creates a scalar Local with the given value.
func FromScalar[T dtypes.Supported](value T) *Local {
	t := FromShape(shapes.Shape{DType: dtypes.FromGenericsType[T]()})
	flatRef[T](t, 1)[0] = value
	return t
}

// FromFlatDataAndDimensions creates a Local with the given dimensions, with
// the flattened content set to data.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Local {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(): shape %s needs %d values, %d given",
			shape, shape.Size(), len(data))
	}
	t := FromShape(shape)
	copy(flatRef[T](t, len(data)), data)
	return t
}

// flatRef returns the tensor data reinterpreted as a flat slice of T.
// The caller must have checked the dtype already.
func flatRef[T dtypes.Supported](t *Local, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), n)
}

// Shape of the tensor.
func (t *Local) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Local) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements stored. An alias to Local.Shape().Size().
func (t *Local) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Local) Memory() uintptr { return t.shape.Memory() }

// Bytes returns the raw storage of the tensor. It is owned by the tensor:
// mutating it mutates the tensor.
func (t *Local) Bytes() []byte { return t.data }

// Clone makes a deep copy of the tensor.
func (t *Local) Clone() *Local {
	c := FromShape(t.shape.Clone())
	copy(c.data, t.data)
	return c
}

// Equal compares shape and contents.
func (t *Local) Equal(o *Local) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.shape.Equal(o.shape) && bytes.Equal(t.data, o.data)
}

// String implements fmt.Stringer. It prints the shape only, since tensors may
// be large.
func (t *Local) String() string {
	if t == nil {
		return "tensors.Local(nil)"
	}
	return "tensors.Local" + t.shape.String()
}

func assertDType[T dtypes.Supported](t *Local, fnName string) {
	if got := dtypes.FromGenericsType[T](); t.shape.DType != got {
		exceptions.Panicf("tensors.%s: tensor has dtype %s, accessed as %s", fnName, t.shape.DType, got)
	}
}

// ConstFlatData calls accessFn with the flattened tensor contents. The slice
// aliases the tensor storage, and must not be modified or retained.
func ConstFlatData[T dtypes.Supported](t *Local, accessFn func(flat []T)) {
	assertDType[T](t, "ConstFlatData")
	accessFn(flatRef[T](t, t.Size()))
}

// MutableFlatData calls accessFn with the flattened tensor contents, which
// may be modified in place. The slice must not be retained.
func MutableFlatData[T dtypes.Supported](t *Local, accessFn func(flat []T)) {
	assertDType[T](t, "MutableFlatData")
	accessFn(flatRef[T](t, t.Size()))
}

// CopyFlatData returns a copy of the flattened tensor contents.
func CopyFlatData[T dtypes.Supported](t *Local) []T {
	assertDType[T](t, "CopyFlatData")
	flat := make([]T, t.Size())
	copy(flat, flatRef[T](t, t.Size()))
	return flat
}

// AssignFlatData copies fromFlat over the tensor contents. Sizes must match.
func AssignFlatData[T dtypes.Supported](t *Local, fromFlat []T) {
	assertDType[T](t, "AssignFlatData")
	if len(fromFlat) != t.Size() {
		exceptions.Panicf("tensors.AssignFlatData: tensor %s holds %d values, %d given", t, t.Size(), len(fromFlat))
	}
	copy(flatRef[T](t, t.Size()), fromFlat)
}

// ToScalar returns the value of a scalar tensor.
func ToScalar[T dtypes.Supported](t *Local) T {
	assertDType[T](t, "ToScalar")
	if !t.shape.IsScalar() {
		exceptions.Panicf("tensors.ToScalar: tensor is not a scalar, shape is %s", t.shape)
	}
	return flatRef[T](t, 1)[0]
}

// FlatFloat64 returns the flattened contents converted to float64. Only
// defined for float dtypes (Float16, Float32 and Float64).
func (t *Local) FlatFloat64() []float64 {
	out := make([]float64, t.Size())
	switch t.shape.DType {
	case dtypes.Float16:
		for ii, v := range flatRef[float16.Float16](t, t.Size()) {
			out[ii] = float64(v.Float32())
		}
	case dtypes.Float32:
		for ii, v := range flatRef[float32](t, t.Size()) {
			out[ii] = float64(v)
		}
	case dtypes.Float64:
		copy(out, flatRef[float64](t, t.Size()))
	default:
		exceptions.Panicf("tensors.FlatFloat64: not defined for dtype %s", t.shape.DType)
	}
	return out
}

// FromFlatFloat64 creates a Local with the given (float dtype) shape,
// converting values to the shape's dtype. The inverse of FlatFloat64.
func FromFlatFloat64(shape shapes.Shape, values []float64) *Local {
	if len(values) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatFloat64: shape %s needs %d values, %d given", shape, shape.Size(), len(values))
	}
	t := FromShape(shape)
	switch shape.DType {
	case dtypes.Float16:
		flat := flatRef[float16.Float16](t, t.Size())
		for ii, v := range values {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
	case dtypes.Float32:
		flat := flatRef[float32](t, t.Size())
		for ii, v := range values {
			flat[ii] = float32(v)
		}
	case dtypes.Float64:
		copy(flatRef[float64](t, t.Size()), values)
	default:
		exceptions.Panicf("tensors.FromFlatFloat64: not defined for dtype %s", shape.DType)
	}
	return t
}
