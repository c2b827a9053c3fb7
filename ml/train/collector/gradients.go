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

// Package collector accumulates computation-graph outputs produced once per
// compute device during graph construction: gradients (GradientsCollector)
// and named result tensors (OutputsCollector). After all devices are built,
// the collectors produce the cross-device averages consumed by the execution
// driver.
//
// All registration happens during single-threaded graph construction, once
// per device in device order; the collectors are not safe for concurrent use.
package collector

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/voxelml/voxelml/graph"
	"github.com/voxelml/voxelml/ml/context"
)

// GradAndVar is one gradient paired with the variable it updates, as produced
// by an optimizer step.
type GradAndVar struct {
	Grad     *graph.Node
	Variable *context.Variable
}

// GradientsCollector accumulates one gradient-set per compute device, up to
// the configured device count, and produces the cross-device average on
// demand. The per-device append order must match the device order assumed by
// the execution driver, since gradients are paired positionally across
// devices.
type GradientsCollector struct {
	nDevices  int
	perDevice [][]GradAndVar
}

// NewGradientsCollector creates a collector for nDevices compute devices.
func NewGradientsCollector(nDevices int) *GradientsCollector {
	if nDevices < 1 {
		exceptions.Panicf("collector.NewGradientsCollector(%d): requires at least one device", nDevices)
	}
	return &GradientsCollector{nDevices: nDevices}
}

// NumDevices the collector was configured with.
func (c *GradientsCollector) NumDevices() int { return c.nDevices }

// DevicesAdded returns how many gradient-sets have been collected so far.
func (c *GradientsCollector) DevicesAdded() int { return len(c.perDevice) }

// Add appends the gradient-set generated for one device. It panics if called
// more than NumDevices times, or if the set doesn't pair up with the
// previously added ones.
func (c *GradientsCollector) Add(gradients []GradAndVar) {
	if len(c.perDevice) >= c.nDevices {
		exceptions.Panicf("GradientsCollector: call Add once per device (n_devices=%d)", c.nDevices)
	}
	if len(c.perDevice) > 0 && len(gradients) != len(c.perDevice[0]) {
		exceptions.Panicf("GradientsCollector: device %d has %d gradients, device 0 has %d -- devices must produce aligned gradient-sets",
			len(c.perDevice), len(gradients), len(c.perDevice[0]))
	}
	c.perDevice = append(c.perDevice, gradients)
}

// Gradients returns the gradient-set averaged over devices: for each
// position, the element-wise mean of the corresponding gradients of every
// collected device, paired by matching variable. It panics if no
// gradient-set was added.
func (c *GradientsCollector) Gradients() []GradAndVar {
	if len(c.perDevice) == 0 {
		exceptions.Panicf("GradientsCollector: add gradients to the collector when constructing the graph")
	}
	averaged := make([]GradAndVar, len(c.perDevice[0]))
	for ii, first := range c.perDevice[0] {
		if len(c.perDevice) == 1 {
			averaged[ii] = first
			continue
		}
		grads := make([]*graph.Node, len(c.perDevice))
		for device, deviceGrads := range c.perDevice {
			gv := deviceGrads[ii]
			if gv.Variable != first.Variable {
				exceptions.Panicf("GradientsCollector: device %d gradient %d updates variable %q, device 0 updates %q -- devices must produce aligned gradient-sets",
					device, ii, gv.Variable, first.Variable)
			}
			grads[device] = gv.Grad
		}
		averaged[ii] = GradAndVar{
			Grad:     graph.Mean(fmt.Sprintf("%s/grad_average", first.Variable.FullName()), grads...),
			Variable: first.Variable,
		}
	}
	return averaged
}
