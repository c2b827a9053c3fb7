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

// Package summary defines visualization summaries: named records of graph
// nodes to be rendered during training -- scalars, histograms and images,
// including the three anatomical middle-slice views of volumetric (rank-3)
// tensors.
//
// The set of summary kinds is closed and validated at registration time.
// Writer renders summary values to disk; Merge produces the single grouping
// node handed to the execution driver.
package summary

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/voxelml/voxelml/graph"
)

// Kind selects how a summary value is visualized.
type Kind int

const (
	// KindScalar records a single float value, e.g. a loss.
	KindScalar Kind = iota

	// KindHistogram records the distribution of the values of a tensor.
	KindHistogram

	// KindImage records a 2D tensor (plus optional channels axis) as an image.
	KindImage

	// KindImage3Sagittal records the middle sagittal slice (axis 0) of a
	// rank-3 volume.
	KindImage3Sagittal

	// KindImage3Coronal records the middle coronal slice (axis 1) of a
	// rank-3 volume.
	KindImage3Coronal

	// KindImage3Axial records the middle axial slice (axis 2) of a rank-3
	// volume.
	KindImage3Axial
)

var kindNames = map[Kind]string{
	KindScalar:         "scalar",
	KindHistogram:      "histogram",
	KindImage:          "image",
	KindImage3Sagittal: "image3_sagittal",
	KindImage3Coronal:  "image3_coronal",
	KindImage3Axial:    "image3_axial",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, found := kindNames[k]; found {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ValidKind reports whether k is one of the supported summary kinds.
func ValidKind(k Kind) bool {
	_, found := kindNames[k]
	return found
}

// ParseKind maps a summary kind name ("scalar", "histogram", "image",
// "image3_sagittal", "image3_coronal", "image3_axial") to its Kind. It
// returns an error for anything else.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return KindScalar, fmt.Errorf("unsupported summary kind %q", name)
}

// Op is one registered summary: a named graph node and the kind of
// visualization to produce from it.
type Op struct {
	name string
	kind Kind
	node *graph.Node
}

// New creates a summary Op, validating the node's shape against the kind.
// It panics on an unknown kind or a shape the kind cannot visualize.
func New(kind Kind, name string, node *graph.Node) *Op {
	if _, found := kindNames[kind]; !found {
		exceptions.Panicf("summary.New(%q): unsupported summary kind %d", name, int(kind))
	}
	if node == nil {
		exceptions.Panicf("summary.New(%q): nil node", name)
	}
	if name == "" {
		exceptions.Panicf("summary.New: empty summary name")
	}
	shape := node.Shape()
	if !shape.DType.IsFloat() {
		exceptions.Panicf("summary.New(%q): %s requires a float dtype, got %s", name, kind, shape)
	}
	switch kind {
	case KindScalar:
		if !shape.IsScalar() {
			exceptions.Panicf("summary.New(%q): scalar summary requires a scalar node, got %s", name, shape)
		}
	case KindHistogram:
		// Any float shape.
	case KindImage:
		if shape.Rank() != 2 && shape.Rank() != 3 {
			exceptions.Panicf("summary.New(%q): image summary requires rank 2 or 3, got %s", name, shape)
		}
	case KindImage3Sagittal, KindImage3Coronal, KindImage3Axial:
		if shape.Rank() != 3 {
			exceptions.Panicf("summary.New(%q): %s requires a rank-3 volume, got %s", name, kind, shape)
		}
	}
	return &Op{name: name, kind: kind, node: node}
}

// Scalar creates a scalar summary of a scalar node.
func Scalar(name string, node *graph.Node) *Op { return New(KindScalar, name, node) }

// Histogram creates a histogram summary of a tensor node.
func Histogram(name string, node *graph.Node) *Op { return New(KindHistogram, name, node) }

// Image creates an image summary of a rank-2 or rank-3 node.
func Image(name string, node *graph.Node) *Op { return New(KindImage, name, node) }

// Image3Sagittal creates a middle-sagittal-slice summary of a rank-3 volume.
func Image3Sagittal(name string, node *graph.Node) *Op { return New(KindImage3Sagittal, name, node) }

// Image3Coronal creates a middle-coronal-slice summary of a rank-3 volume.
func Image3Coronal(name string, node *graph.Node) *Op { return New(KindImage3Coronal, name, node) }

// Image3Axial creates a middle-axial-slice summary of a rank-3 volume.
func Image3Axial(name string, node *graph.Node) *Op { return New(KindImage3Axial, name, node) }

// Name of the summary.
func (op *Op) Name() string { return op.name }

// Kind of visualization the summary produces.
func (op *Op) Kind() Kind { return op.kind }

// Node whose value the summary visualizes.
func (op *Op) Node() *graph.Node { return op.node }

// String implements fmt.Stringer.
func (op *Op) String() string {
	return fmt.Sprintf("summary.Op(%s, %q)", op.kind, op.name)
}

// MergedPrefix prefixes the name of the node returned by Merge.
const MergedPrefix = "merged_summaries/"

// Merge builds the single grouping node covering all given summaries, to be
// evaluated by the execution driver once per logging step. It returns nil if
// there are no summaries. The node name is unique per merge.
func Merge(ops []*Op) *graph.Node {
	if len(ops) == 0 {
		return nil
	}
	nodes := make([]*graph.Node, len(ops))
	for ii, op := range ops {
		nodes[ii] = op.node
	}
	return graph.Tuple(MergedPrefix+uuid.NewString(), nodes...)
}
