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

// Package graph implements the static computation graph handled by the VoxelML
// engine subsystems: named Node handles produced during model construction,
// referenced by the output collectors and consumed by the execution driver.
//
// The op surface here is deliberately small: constants, parameters (fed by
// the execution engine), the cross-device Mean node added when finalizing
// output collection, and Tuple, a grouping node. Nodes built purely from
// constants can be evaluated eagerly with Node.Eval -- used in tests and by
// the summary renderer.
package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
)

// NodeId is a unique identifier of a Node within a Graph.
type NodeId int

// NodeType identifies the operation a Node performs.
type NodeType int

const (
	// NodeTypeInvalid is the zero value of NodeType, and not a valid operation.
	NodeTypeInvalid NodeType = iota

	// NodeTypeConstant holds a materialized tensor value.
	NodeTypeConstant

	// NodeTypeParameter is fed a value by the execution engine at run time.
	NodeTypeParameter

	// NodeTypeMean is the element-wise mean over its (same-shaped) inputs.
	NodeTypeMean

	// NodeTypeTuple groups its inputs; it has no value of its own.
	NodeTypeTuple
)

// String implements fmt.Stringer.
func (t NodeType) String() string {
	switch t {
	case NodeTypeConstant:
		return "Constant"
	case NodeTypeParameter:
		return "Parameter"
	case NodeTypeMean:
		return "Mean"
	case NodeTypeTuple:
		return "Tuple"
	}
	return fmt.Sprintf("NodeTypeInvalid(%d)", int(t))
}

// Graph is a container of Nodes under construction. It is built once, single
// threaded, during model construction, and later handed whole to the
// execution driver.
type Graph struct {
	name  string
	nodes []*Node
}

// New creates an empty Graph with the given name.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of nodes created in the graph so far.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeById returns the node with the given id. It panics for an invalid id.
func (g *Graph) NodeById(id NodeId) *Node {
	if int(id) < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("graph %q has no node with id %d", g.name, id)
	}
	return g.nodes[id]
}

func (g *Graph) newNode(nodeType NodeType, name string, shape shapes.Shape, inputs []*Node) *Node {
	n := &Node{
		g:        g,
		id:       NodeId(len(g.nodes)),
		nodeType: nodeType,
		name:     name,
		shape:    shape,
		inputs:   inputs,
	}
	g.nodes = append(g.nodes, n)
	return n
}

// Node is one operation of a Graph. Nodes are named, and the name is used as
// the display key by the output collectors.
type Node struct {
	g        *Graph
	id       NodeId
	nodeType NodeType
	name     string
	shape    shapes.Shape
	inputs   []*Node
	value    *tensors.Local
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph { return n.g }

// Id of the node within its graph.
func (n *Node) Id() NodeId { return n.id }

// Type of the operation performed by the node.
func (n *Node) Type() NodeType { return n.nodeType }

// Name given to the node at creation.
func (n *Node) Name() string { return n.name }

// Shape of the node's value.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's value. Shortcut to Node.Shape().DType.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Inputs are the operands of the node, in order. It is owned by the node,
// don't modify it.
func (n *Node) Inputs() []*Node { return n.inputs }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%q: %s)", n.nodeType, n.name, n.shape)
}

// Constant creates a node holding the given tensor value. The tensor must not
// be mutated afterward.
func Constant(g *Graph, name string, value *tensors.Local) *Node {
	if value == nil {
		exceptions.Panicf("graph.Constant(%q): nil value", name)
	}
	n := g.newNode(NodeTypeConstant, name, value.Shape(), nil)
	n.value = value
	return n
}

// ConstScalar creates a constant scalar node with the given value.
func ConstScalar[T dtypes.Supported](g *Graph, name string, value T) *Node {
	return Constant(g, name, tensors.FromScalar(value))
}

// Parameter creates a node whose value is fed by the execution engine.
func Parameter(g *Graph, name string, shape shapes.Shape) *Node {
	return g.newNode(NodeTypeParameter, name, shape, nil)
}

// Mean creates a node computing the element-wise mean of inputs, which must
// all have the same float shape and belong to the same graph. This is the
// node the output collectors add when averaging values over devices.
func Mean(name string, inputs ...*Node) *Node {
	if len(inputs) == 0 {
		exceptions.Panicf("graph.Mean(%q): no inputs", name)
	}
	first := inputs[0]
	if !first.Shape().DType.IsFloat() {
		exceptions.Panicf("graph.Mean(%q): requires a float dtype, got %s", name, first.Shape())
	}
	for _, n := range inputs[1:] {
		if n.Graph() != first.Graph() {
			exceptions.Panicf("graph.Mean(%q): inputs belong to different graphs (%q and %q)",
				name, first.Graph().Name(), n.Graph().Name())
		}
		if !n.Shape().Equal(first.Shape()) {
			exceptions.Panicf("graph.Mean(%q): input shapes differ, %s vs %s", name, first.Shape(), n.Shape())
		}
	}
	return first.g.newNode(NodeTypeMean, name, first.Shape().Clone(), inputs)
}

// Tuple creates a grouping node over inputs, which must belong to the same
// graph. It carries no value of its own.
func Tuple(name string, inputs ...*Node) *Node {
	if len(inputs) == 0 {
		exceptions.Panicf("graph.Tuple(%q): no inputs", name)
	}
	first := inputs[0]
	for _, n := range inputs[1:] {
		if n.Graph() != first.Graph() {
			exceptions.Panicf("graph.Tuple(%q): inputs belong to different graphs (%q and %q)",
				name, first.Graph().Name(), n.Graph().Name())
		}
	}
	return first.g.newNode(NodeTypeTuple, name, shapes.Invalid(), inputs)
}

// Eval materializes the node's value. Only nodes whose transitive inputs are
// constants can be evaluated here -- parameters and tuples are resolved by
// the execution engine.
func (n *Node) Eval() *tensors.Local {
	switch n.nodeType {
	case NodeTypeConstant:
		return n.value
	case NodeTypeMean:
		acc := n.inputs[0].Eval().FlatFloat64()
		for _, input := range n.inputs[1:] {
			for ii, v := range input.Eval().FlatFloat64() {
				acc[ii] += v
			}
		}
		scale := 1.0 / float64(len(n.inputs))
		for ii := range acc {
			acc[ii] *= scale
		}
		return tensors.FromFlatFloat64(n.shape, acc)
	case NodeTypeParameter:
		exceptions.Panicf("cannot Eval %s: parameters are fed by the execution engine", n)
	case NodeTypeTuple:
		exceptions.Panicf("cannot Eval %s: tuples are resolved by the execution engine", n)
	}
	exceptions.Panicf("cannot Eval %s", n)
	return nil
}
