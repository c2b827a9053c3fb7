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

package checkpoints

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxelml/voxelml/ml/context"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
	"github.com/voxelml/voxelml/types/xslices"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	weights := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	bias := tensors.FromFlatDataAndDimensions([]float64{0.5}, 1)
	require.NoError(t, Save(dir, "pretrained", map[string]*tensors.Local{
		"net/conv_0/w": weights,
		"net/conv_0/b": bias,
	}))

	resolver := NewDirResolver(dir)
	handle, err := resolver.Resolve("pretrained")
	require.NoError(t, err)
	assert.Equal(t, "pretrained", handle.ID())

	entries, err := resolver.ListEntries(handle)
	require.NoError(t, err)
	names := xslices.Map(entries, func(e Entry) string { return e.Name })
	assert.Equal(t, []string{"net/conv_0/b", "net/conv_0/w"}, names, "entries sorted by name")
	assert.True(t, entries[1].Shape.Equal(weights.Shape()))

	loaded, err := resolver.ReadTensor(handle, "net/conv_0/w")
	require.NoError(t, err)
	assert.True(t, loaded.Equal(weights))
	loaded, err = resolver.ReadTensor(handle, "net/conv_0/b")
	require.NoError(t, err)
	assert.True(t, loaded.Equal(bias))

	_, err = resolver.ReadTensor(handle, "net/conv_1/w")
	require.Error(t, err)
}

func TestResolveNotFound(t *testing.T) {
	resolver := NewDirResolver(t.TempDir())
	_, err := resolver.Resolve("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = resolver.Resolve("")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveContext(t *testing.T) {
	ctx := context.New()
	ctx.In("net").VariableWithValue("w", tensors.FromScalar(float32(7)))
	ctx.In("net").VariableWithShape("uninitialized", shapes.Make(dtypes.Float32, 2))

	dir := t.TempDir()
	require.NoError(t, SaveContext(dir, "model", ctx))

	resolver := NewDirResolver(dir)
	handle, err := resolver.Resolve("model")
	require.NoError(t, err)
	entries, err := resolver.ListEntries(handle)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only initialized variables are saved")
	assert.Equal(t, "net/w", entries[0].Name)
}

func TestRestoreInitializer(t *testing.T) {
	dir := t.TempDir()
	value := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	require.NoError(t, Save(dir, "ckpt", map[string]*tensors.Local{"sub/leaf": value}))
	resolver := NewDirResolver(dir)

	init := RestoreInitializer(resolver, "ckpt", "leaf", "sub")
	restored, err := init(value.Shape())
	require.NoError(t, err)
	assert.True(t, restored.Equal(value))

	// Shape mismatch surfaces as an error.
	_, err = init(shapes.Make(dtypes.Float32, 3))
	require.Error(t, err)

	// Missing checkpoint propagates ErrNotFound.
	init = RestoreInitializer(resolver, "missing", "leaf", "sub")
	_, err = init(value.Shape())
	assert.True(t, errors.Is(err, ErrNotFound))
}
