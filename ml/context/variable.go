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

package context

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
)

// OutputSuffixSeparator separates a variable's qualified name from its output
// suffix in ParameterName. Everything from the first occurrence on is
// stripped when mapping a variable to its checkpoint entry.
const OutputSuffixSeparator = ":"

// outputSuffix identifies the primary output of a variable node, as named by
// the execution engine.
const outputSuffix = OutputSuffixSeparator + "0"

// Variable is a value shared across computation graphs and across multiple
// executions of the same graph. It's commonly used to store the weights of an
// ML model. It's defined in a scope of a Context.
//
// A Variable is created uninitialized; the restore package assigns it a value
// at session start, either fresh or read from a checkpoint.
type Variable struct {
	ctx         *Context
	name, scope string

	// Trainable indicates whether the variable is updated by optimizers.
	// It defaults to true.
	Trainable bool

	shape shapes.Shape
	value *tensors.Local
}

// AssertValid panics if the variable is in an invalid state: nil or without a
// shape.
func (v *Variable) AssertValid() {
	if v == nil {
		exceptions.Panicf("context.Variable is nil")
	}
	if !v.shape.Ok() {
		exceptions.Panicf("context.Variable has no shape")
	}
}

// Name of the variable within its scope.
func (v *Variable) Name() string {
	v.AssertValid()
	return v.name
}

// Scope where the variable was created.
func (v *Variable) Scope() string {
	v.AssertValid()
	return v.scope
}

// FullName is the fully-qualified name of the variable: its scope and name
// joined by ScopeSeparator. It is unique within the Context.
func (v *Variable) FullName() string {
	v.AssertValid()
	if v.scope == "" {
		return v.name
	}
	return v.scope + ScopeSeparator + v.name
}

// ParameterName is the name of the variable's node output as seen by the
// execution engine: the fully-qualified name plus the output suffix (":0").
func (v *Variable) ParameterName() string {
	return v.FullName() + outputSuffix
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil || !v.shape.Ok() {
		return "INVALID (NIL) VARIABLE"
	}
	return v.FullName()
}

// Shape of the variable.
func (v *Variable) Shape() shapes.Shape {
	if v == nil {
		return shapes.Shape{}
	}
	return v.shape
}

// DType of the variable. Shortcut to Variable.Shape().DType.
func (v *Variable) DType() dtypes.DType { return v.Shape().DType }

// IsInitialized reports whether the variable has been assigned a value.
func (v *Variable) IsInitialized() bool {
	v.AssertValid()
	return v.value != nil
}

// Value returns the tensor holding the variable value, or nil if the variable
// has not been initialized yet.
func (v *Variable) Value() *tensors.Local {
	v.AssertValid()
	return v.value
}

// SetValue updates the tensor holding the variable value. The value's shape
// must match the variable's.
func (v *Variable) SetValue(value *tensors.Local) {
	v.AssertValid()
	if value == nil {
		exceptions.Panicf("Variable %q: SetValue(nil)", v.FullName())
	}
	if !value.Shape().Equal(v.shape) {
		exceptions.Panicf("Variable %q has shape %s, cannot set value with shape %s",
			v.FullName(), v.shape, value.Shape())
	}
	v.value = value
}

// SetTrainable sets the variable trainable status. Returns itself, so calls
// can be cascaded.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.AssertValid()
	v.Trainable = trainable
	return v
}
