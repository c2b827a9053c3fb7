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
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/voxelml/voxelml/graph"
	"github.com/voxelml/voxelml/ml/train/summary"
	"github.com/voxelml/voxelml/types/xslices"
)

// Collection tags the purpose of a collected output tensor.
type Collection int

const (
	// Console tensors are printed on the command line by the driver.
	Console Collection = iota

	// NetworkOutput tensors are decoded and persisted by an output
	// aggregator.
	NetworkOutput

	// Summaries tensors are rendered by the summary Writer.
	Summaries
)

// String implements fmt.Stringer.
func (c Collection) String() string {
	switch c {
	case Console:
		return "console"
	case NetworkOutput:
		return "network_output"
	case Summaries:
		return "summaries"
	}
	return fmt.Sprintf("Collection(%d)", int(c))
}

// outputMap is one named bucket of collected tensors. Names map either to a
// final node (single) or to an ordered per-device list pending averaging.
type outputMap struct {
	single  map[string]*graph.Node
	pending map[string][]*graph.Node
}

func newOutputMap() *outputMap {
	return &outputMap{
		single:  make(map[string]*graph.Node),
		pending: make(map[string][]*graph.Node),
	}
}

func (m *outputMap) taken(name string) bool {
	if _, found := m.single[name]; found {
		return true
	}
	_, found := m.pending[name]
	return found
}

// OutputsCollector accumulates named graph nodes to be evaluated by the
// execution driver at each step. Nodes are grouped into collections:
//
//	Console: to be printed on the command line.
//	NetworkOutput: to be decoded by an output aggregator.
//	Summaries: to be rendered as visualization summaries.
//
// Within a collection a name is never silently overwritten: non-averaged
// entries are renamed on collision ("name", "name_1", "name_2", ...), and
// averaged entries may accumulate exactly one node per device.
//
// Finalise must be called exactly once after all devices have populated the
// collector; it replaces every per-device list with its element-wise mean
// and builds the merged summary handle.
type OutputsCollector struct {
	nDevices int
	buckets  map[Collection]*outputMap

	summaryOps []*summary.Op
	merged     *graph.Node
	finalized  bool
}

// NewOutputsCollector creates a collector for nDevices compute devices.
func NewOutputsCollector(nDevices int) *OutputsCollector {
	if nDevices < 1 {
		exceptions.Panicf("collector.NewOutputsCollector(%d): requires at least one device", nDevices)
	}
	return &OutputsCollector{
		nDevices: nDevices,
		buckets: map[Collection]*outputMap{
			Console:       newOutputMap(),
			NetworkOutput: newOutputMap(),
			Summaries:     newOutputMap(),
		},
	}
}

// NumDevices the collector was configured with.
func (c *OutputsCollector) NumDevices() int { return c.nDevices }

func (c *OutputsCollector) bucket(collection Collection) *outputMap {
	m, found := c.buckets[collection]
	if !found {
		exceptions.Panicf("OutputsCollector: unknown collection %s", collection)
	}
	return m
}

// addToMap stores node under name in m, returning the name actually used.
func (c *OutputsCollector) addToMap(m *outputMap, node *graph.Node, name string, averageOverDevices bool) string {
	if node == nil {
		exceptions.Panicf("OutputsCollector: only supports adding one graph.Node at a time, got nil (name=%q)", name)
	}
	if name == "" {
		exceptions.Panicf("OutputsCollector: select a meaningful name for node %s", node)
	}
	if c.finalized {
		exceptions.Panicf("OutputsCollector: cannot add %q after Finalise", name)
	}

	if averageOverDevices && c.nDevices > 1 {
		// Collecting nodes across devices as a list.
		if _, found := m.single[name]; found {
			exceptions.Panicf("OutputsCollector: averaged name %q has already been taken", name)
		}
		list := append(m.pending[name], node)
		if len(list) > c.nDevices {
			exceptions.Panicf("OutputsCollector: averaged name %q registered more times than there are devices (%d)",
				name, c.nDevices)
		}
		m.pending[name] = list
		return name
	}

	// Collecting a single node, renaming on collision.
	newName := name
	for uniqueId := 1; m.taken(newName); uniqueId++ {
		newName = fmt.Sprintf("%s_%d", name, uniqueId)
	}
	m.single[newName] = node
	return newName
}

// Add collects a named node into the given collection, to be evaluated by
// the execution driver. If averageOverDevices is set (and the collector
// handles multiple devices), the same name must be registered once per
// device, and Finalise replaces the group with its mean.
//
// It returns the name actually used, which may have been renamed to avoid a
// collision. Adding to Summaries this way produces a scalar summary; use
// AddSummary for other visualizations.
func (c *OutputsCollector) Add(node *graph.Node, name string, averageOverDevices bool, collection Collection) string {
	if collection == Summaries {
		return c.AddSummary(node, name, averageOverDevices, summary.KindScalar)
	}
	return c.addToMap(c.bucket(collection), node, name, averageOverDevices)
}

// AddSummary collects a named node into the Summaries collection, with the
// given visualization kind. It panics on an unsupported kind, leaving the
// collector untouched.
//
// It returns the name actually used. For device-averaged entries the summary
// op itself is only emitted at Finalise time, over the averaged value.
func (c *OutputsCollector) AddSummary(node *graph.Node, name string, averageOverDevices bool, kind summary.Kind) string {
	if !summary.ValidKind(kind) {
		exceptions.Panicf("OutputsCollector: unsupported summary kind %d for %q", int(kind), name)
	}
	m := c.bucket(Summaries)
	usedName := c.addToMap(m, node, name, averageOverDevices)
	if _, found := m.single[usedName]; found {
		c.summaryOps = append(c.summaryOps, summary.New(kind, usedName, node))
	}
	return usedName
}

// Variables returns the mapping of collected names to nodes for the given
// collection, to be evaluated by the execution driver.
//
// For Console and NetworkOutput the returned map is the live mapping owned by
// the collector -- don't modify it; entries pending device-averaging only
// appear after Finalise. For Summaries it holds the single merged-summary
// handle if Finalise has run, and is empty otherwise.
func (c *OutputsCollector) Variables(collection Collection) map[string]*graph.Node {
	if collection == Summaries {
		if c.merged == nil {
			return map[string]*graph.Node{}
		}
		return map[string]*graph.Node{c.merged.Name(): c.merged}
	}
	return c.bucket(collection).single
}

// MergedSummary returns the single node covering all registered summary ops,
// or nil if Finalise hasn't run (or no summaries were registered).
func (c *OutputsCollector) MergedSummary() *graph.Node { return c.merged }

// SummaryOps returns the registered summary ops, for rendering with
// summary.Writer. Complete only after Finalise.
func (c *OutputsCollector) SummaryOps() []*summary.Op {
	ops := make([]*summary.Op, len(c.summaryOps))
	copy(ops, c.summaryOps)
	return ops
}

// Finalise replaces every entry pending device-averaging with its
// element-wise mean, named identically to the original key, and builds the
// merged summary handle. Averaged summary entries additionally emit a scalar
// summary of the mean, named "<name>_device_average_".
//
// It must be called exactly once, after all devices have populated the
// collector; extra calls are no-ops.
func (c *OutputsCollector) Finalise() {
	if c.finalized {
		return
	}
	c.averagePending(c.bucket(Console), false)
	c.averagePending(c.bucket(NetworkOutput), false)
	c.averagePending(c.bucket(Summaries), true)
	c.merged = summary.Merge(c.summaryOps)
	c.finalized = true
}

// averagePending adds a Mean node over each per-device list of m, in
// deterministic name order.
func (c *OutputsCollector) averagePending(m *outputMap, emitSummary bool) {
	for _, name := range xslices.SortedKeys(m.pending) {
		mean := graph.Mean(name, m.pending[name]...)
		m.single[name] = mean
		delete(m.pending, name)
		if emitSummary {
			c.summaryOps = append(c.summaryOps, summary.Scalar(name+"_device_average_", mean))
		}
	}
}
