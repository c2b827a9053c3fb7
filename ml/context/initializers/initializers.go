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

// Package initializers provides variable value initializers, to be used with
// context and the restore package.
//
// The checkpoints package provides one more: checkpoints.RestoreInitializer,
// which materializes a value previously saved in a checkpoint file.
package initializers

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
)

// VariableInitializer builds a value to initialize a variable of the given
// shape.
type VariableInitializer func(shape shapes.Shape) (*tensors.Local, error)

// Zero initializes variables with zeros. This is the default fresh
// initialization used by restore.InitOp for variables not claimed by any
// checkpoint.
func Zero(shape shapes.Shape) (*tensors.Local, error) {
	return tensors.FromShape(shape), nil
}

// One initializes variables with ones. Only defined for float dtypes.
func One(shape shapes.Shape) (*tensors.Local, error) {
	values := make([]float64, shape.Size())
	for ii := range values {
		values[ii] = 1
	}
	return tensors.FromFlatFloat64(shape, values), nil
}

// RandomUniform returns an initializer that generates values uniformly
// sampled from [min, max). Only defined for float dtypes. The given seed
// makes the initialization reproducible across runs.
func RandomUniform(min, max float64, seed uint64) VariableInitializer {
	if max <= min {
		exceptions.Panicf("initializers.RandomUniform: requires min < max, got [%g, %g)", min, max)
	}
	return func(shape shapes.Shape) (*tensors.Local, error) {
		rng := rand.New(rand.NewPCG(seed, uint64(shape.Size())))
		values := make([]float64, shape.Size())
		for ii := range values {
			values[ii] = min + rng.Float64()*(max-min)
		}
		return tensors.FromFlatFloat64(shape, values), nil
	}
}
