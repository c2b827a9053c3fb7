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

package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxelml/voxelml/graph"
	"github.com/voxelml/voxelml/types/tensors"
)

func TestParseKind(t *testing.T) {
	for kind, name := range kindNames {
		parsed, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
		assert.True(t, ValidKind(kind))
	}
	_, err := ParseKind("bogus")
	require.Error(t, err)
	assert.False(t, ValidKind(Kind(99)))
}

func TestNewValidation(t *testing.T) {
	g := graph.New("test")
	scalar := graph.ConstScalar(g, "s", float32(1))
	vector := graph.Constant(g, "v", tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	img := graph.Constant(g, "i", tensors.FromFlatDataAndDimensions(make([]float32, 4), 2, 2))
	volume := graph.Constant(g, "vol", tensors.FromFlatDataAndDimensions(make([]float32, 8), 2, 2, 2))

	assert.Equal(t, KindScalar, Scalar("loss", scalar).Kind())
	assert.Equal(t, "loss", Scalar("loss", scalar).Name())
	assert.Same(t, scalar, Scalar("loss", scalar).Node())
	Histogram("weights", vector)
	Image("slice", img)
	Image("volume_as_image", volume)
	Image3Sagittal("view", volume)
	Image3Coronal("view", volume)
	Image3Axial("view", volume)

	require.Panics(t, func() { New(Kind(99), "x", scalar) }, "unsupported kind")
	require.Panics(t, func() { New(KindScalar, "x", nil) })
	require.Panics(t, func() { New(KindScalar, "", scalar) })
	require.Panics(t, func() { Scalar("x", vector) }, "scalar summary of a vector")
	require.Panics(t, func() { Image("x", vector) }, "image of a rank-1 tensor")
	require.Panics(t, func() { Image3Axial("x", img) }, "volume view of a rank-2 tensor")
	require.Panics(t, func() {
		Scalar("x", graph.ConstScalar(g, "int", int32(1)))
	}, "int dtype")
}

func TestMerge(t *testing.T) {
	assert.Nil(t, Merge(nil))

	g := graph.New("test")
	ops := []*Op{
		Scalar("a", graph.ConstScalar(g, "a", float32(1))),
		Scalar("b", graph.ConstScalar(g, "b", float32(2))),
	}
	merged := Merge(ops)
	require.NotNil(t, merged)
	assert.True(t, strings.HasPrefix(merged.Name(), MergedPrefix))
	assert.Len(t, merged.Inputs(), 2)
	assert.NotEqual(t, merged.Name(), Merge(ops).Name(), "merge names are unique")
}

func TestMiddleSlice(t *testing.T) {
	// 2x2x2 volume with values 0..7 in row-major order.
	volume := tensors.FromFlatDataAndDimensions([]float64{0, 1, 2, 3, 4, 5, 6, 7}, 2, 2, 2)

	sagittal := middleSlice(volume, 0)
	assert.Equal(t, []float64{4, 5, 6, 7}, sagittal.values)
	assert.Equal(t, 2, sagittal.rows)
	assert.Equal(t, 2, sagittal.cols)

	coronal := middleSlice(volume, 1)
	assert.Equal(t, []float64{2, 3, 6, 7}, coronal.values)

	axial := middleSlice(volume, 2)
	assert.Equal(t, []float64{1, 3, 5, 7}, axial.values)
}

func TestMatrixFromTensor(t *testing.T) {
	m := matrixFromTensor(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	assert.Equal(t, 2, m.rows)
	assert.Equal(t, 3, m.cols)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, m.values)

	// Rank-3 keeps the first channel.
	m = matrixFromTensor(tensors.FromFlatDataAndDimensions([]float32{1, 10, 2, 20, 3, 30, 4, 40}, 2, 2, 2))
	assert.Equal(t, []float64{1, 2, 3, 4}, m.values)
}

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summaries")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())

	g := graph.New("test")
	ops := []*Op{
		Scalar("loss", graph.ConstScalar(g, "loss", float32(0.5))),
		Histogram("weights", graph.Constant(g, "w",
			tensors.FromFlatDataAndDimensions([]float64{0, 1, 2, 3}, 4))),
		Image("net/activations", graph.Constant(g, "act",
			tensors.FromFlatDataAndDimensions(make([]float32, 16), 4, 4))),
	}
	require.NoError(t, w.Write(7, ops...))

	scalars, err := os.ReadFile(filepath.Join(dir, "scalars.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "7\tloss\t0.5\n", string(scalars))

	histograms, err := os.ReadFile(filepath.Join(dir, "histograms.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(histograms), `"Name":"weights"`)

	_, err = os.Stat(filepath.Join(dir, "net_activations-00000007.png"))
	require.NoError(t, err, "image file name escapes the scope separator")
}
