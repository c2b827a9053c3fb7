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

package collector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxelml/voxelml/graph"
	"github.com/voxelml/voxelml/ml/train/summary"
	"github.com/voxelml/voxelml/types/tensors"
)

func TestRenameOnCollision(t *testing.T) {
	g := graph.New("test")
	c := NewOutputsCollector(1)
	n1 := graph.ConstScalar(g, "n1", float32(1))
	n2 := graph.ConstScalar(g, "n2", float32(2))
	n3 := graph.ConstScalar(g, "n3", float32(3))

	assert.Equal(t, "loss", c.Add(n1, "loss", false, Console))
	assert.Equal(t, "loss_1", c.Add(n2, "loss", false, Console))
	assert.Equal(t, "loss_2", c.Add(n3, "loss", false, Console))

	vars := c.Variables(Console)
	require.Len(t, vars, 3)
	assert.Same(t, n1, vars["loss"])
	assert.Same(t, n2, vars["loss_1"])
	assert.Same(t, n3, vars["loss_2"])

	// Renaming is per collection: the same name is free elsewhere.
	assert.Equal(t, "loss", c.Add(n1, "loss", false, NetworkOutput))
}

func TestDeviceAveraging(t *testing.T) {
	g := graph.New("test")
	c := NewOutputsCollector(2)
	d0 := graph.Constant(g, "d0", tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	d1 := graph.Constant(g, "d1", tensors.FromFlatDataAndDimensions([]float32{3, 6}, 2))

	assert.Equal(t, "loss", c.Add(d0, "loss", true, Console))
	assert.Equal(t, "loss", c.Add(d1, "loss", true, Console))
	assert.NotContains(t, c.Variables(Console), "loss", "pending until Finalise")

	// A third averaged add for a two-device collector panics.
	require.Panics(t, func() { c.Add(d0, "loss", true, Console) })

	// A non-averaged add under a pending name gets renamed, and an averaged
	// add under a taken single name panics.
	assert.Equal(t, "loss_1", c.Add(d0, "loss", false, Console))
	require.Panics(t, func() { c.Add(d0, "loss_1", true, Console) })

	c.Finalise()
	vars := c.Variables(Console)
	require.Contains(t, vars, "loss")
	assert.Equal(t, []float32{2, 4}, tensors.CopyFlatData[float32](vars["loss"].Eval()),
		"averaged entry keeps its original name")

	require.Panics(t, func() { c.Add(d0, "late", false, Console) }, "add after Finalise")
}

func TestAddSummary(t *testing.T) {
	g := graph.New("test")
	c := NewOutputsCollector(1)
	loss := graph.ConstScalar(g, "loss_value", float32(0.5))
	img := graph.Constant(g, "img", tensors.FromFlatDataAndDimensions(make([]float32, 16), 4, 4))

	assert.Equal(t, "loss", c.AddSummary(loss, "loss", false, summary.KindScalar))
	assert.Equal(t, "activations", c.AddSummary(img, "activations", false, summary.KindImage))
	require.Len(t, c.SummaryOps(), 2)
	assert.Equal(t, summary.KindImage, c.SummaryOps()[1].Kind())

	// Adding to Summaries via Add produces a scalar summary.
	assert.Equal(t, "loss_1", c.Add(loss, "loss", false, Summaries))
	require.Len(t, c.SummaryOps(), 3)
	assert.Equal(t, summary.KindScalar, c.SummaryOps()[2].Kind())

	// An unsupported kind panics and leaves the collector untouched.
	require.Panics(t, func() { c.AddSummary(loss, "bogus", false, summary.Kind(99)) })
	assert.Len(t, c.SummaryOps(), 3)
	require.Panics(t, func() { c.AddSummary(loss, "bogus", true, summary.Kind(-1)) })
	assert.Len(t, c.SummaryOps(), 3)
}

func TestSummariesMergedHandle(t *testing.T) {
	g := graph.New("test")
	c := NewOutputsCollector(2)
	d0 := graph.ConstScalar(g, "d0", float32(1))
	d1 := graph.ConstScalar(g, "d1", float32(3))

	c.AddSummary(d0, "dice", true, summary.KindScalar)
	c.AddSummary(d1, "dice", true, summary.KindScalar)
	assert.Empty(t, c.Variables(Summaries), "no merged handle before Finalise")
	assert.Nil(t, c.MergedSummary())

	c.Finalise()
	merged := c.MergedSummary()
	require.NotNil(t, merged)
	assert.True(t, strings.HasPrefix(merged.Name(), summary.MergedPrefix))
	vars := c.Variables(Summaries)
	require.Len(t, vars, 1)
	assert.Same(t, merged, vars[merged.Name()])

	// The averaged summary emits a scalar op over the device mean.
	ops := c.SummaryOps()
	require.Len(t, ops, 1)
	assert.Equal(t, "dice_device_average_", ops[0].Name())
	assert.Equal(t, float32(2), tensors.ToScalar[float32](ops[0].Node().Eval()))

	// Finalise is idempotent.
	c.Finalise()
	assert.Same(t, merged, c.MergedSummary())
}

func TestEmptyCollector(t *testing.T) {
	c := NewOutputsCollector(1)
	c.Finalise()
	assert.Nil(t, c.MergedSummary(), "no summaries, no merged handle")
	assert.Empty(t, c.Variables(Summaries))
	assert.Empty(t, c.Variables(Console))

	require.Panics(t, func() { NewOutputsCollector(0) })
}

func TestAddValidation(t *testing.T) {
	g := graph.New("test")
	c := NewOutputsCollector(1)
	n := graph.ConstScalar(g, "n", float32(1))

	require.Panics(t, func() { c.Add(nil, "x", false, Console) })
	require.Panics(t, func() { c.Add(n, "", false, Console) })
	require.Panics(t, func() { c.Add(n, "x", false, Collection(42)) })
}
