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

// Package context defines the Context and Variable types.
//
// Context organizes the variables (weights) of a model in "scopes", nested
// namespaces separated by ScopeSeparator. The Context object itself is a thin
// wrapper holding the current scope (similar to a current directory) and a
// link to the shared data; Context.In returns a new Context one scope level
// deeper, still sharing the same variables:
//
//	ctx := context.New()
//	{
//		ctx := ctx.In("encoder").In("layer_0")
//		w := ctx.VariableWithShape("w", shapes.Make(dtypes.Float32, 16, 16))
//		_ = w // FullName() == "encoder/layer_0/w"
//	}
//
// Graph construction registers variables here; the restore package later
// initializes them, either fresh or from checkpoints.
package context

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
)

// ScopeSeparator is used between levels of scope. Scope elements and variable
// names cannot use this character.
const ScopeSeparator = "/"

// Context organizes the variables of a model in scopes. See package
// documentation. The root Context has an empty scope.
//
// All methods that create variables are meant to be called during
// single-threaded graph construction; Context is not safe for concurrent
// mutation.
type Context struct {
	scope string
	data  *contextData
}

// contextData is shared among all scoped references of a Context.
type contextData struct {
	// variablesInOrder preserves creation order, which the engine relies on
	// for reproducible runs.
	variablesInOrder []*Variable

	// variablesByQualified maps Variable.FullName() to the variable.
	variablesByQualified map[string]*Variable
}

// New creates an empty Context at the root (empty) scope.
func New() *Context {
	return &Context{
		data: &contextData{
			variablesByQualified: make(map[string]*Variable),
		},
	}
}

// Scope returns the current scope, e.g. "encoder/layer_0". The root scope is
// the empty string.
func (ctx *Context) Scope() string { return ctx.scope }

// In returns a new reference to the Context with the extra given scope
// element appended. The element may not be empty or contain ScopeSeparator.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("context.In(): cannot use an empty scope element")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("context.In(%q): cannot use separator %q in a scope element", scope, ScopeSeparator)
	}
	newScope := scope
	if ctx.scope != "" {
		newScope = ctx.scope + ScopeSeparator + scope
	}
	return &Context{scope: newScope, data: ctx.data}
}

// InAbsPath returns a new reference to the Context with the scope set to the
// given path, e.g. "encoder/layer_0". An empty path means the root scope.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if strings.HasPrefix(scopePath, ScopeSeparator) || strings.HasSuffix(scopePath, ScopeSeparator) {
		exceptions.Panicf("context.InAbsPath(%q): scope path cannot start or end with %q", scopePath, ScopeSeparator)
	}
	return &Context{scope: scopePath, data: ctx.data}
}

// VariableWithShape creates a Variable in the current scope with the given
// name and shape. The variable is created uninitialized; it receives a value
// either from a restore.InitOp or a direct SetValue.
//
// It panics if a variable with the same name already exists in this scope.
func (ctx *Context) VariableWithShape(name string, shape shapes.Shape) *Variable {
	if name == "" {
		exceptions.Panicf("context.VariableWithShape: variable name cannot be empty (scope %q)", ctx.scope)
	}
	if strings.ContainsAny(name, ScopeSeparator+OutputSuffixSeparator) {
		exceptions.Panicf("context.VariableWithShape(%q): name cannot contain %q or %q",
			name, ScopeSeparator, OutputSuffixSeparator)
	}
	if !shape.Ok() {
		exceptions.Panicf("context.VariableWithShape(%q): invalid shape", name)
	}
	v := &Variable{ctx: ctx, name: name, scope: ctx.scope, shape: shape, Trainable: true}
	qualified := v.FullName()
	if _, found := ctx.data.variablesByQualified[qualified]; found {
		exceptions.Panicf("context.VariableWithShape: variable %q already exists", qualified)
	}
	ctx.data.variablesByQualified[qualified] = v
	ctx.data.variablesInOrder = append(ctx.data.variablesInOrder, v)
	return v
}

// VariableWithValue creates a Variable in the current scope, already
// initialized with the given tensor value.
func (ctx *Context) VariableWithValue(name string, value *tensors.Local) *Variable {
	v := ctx.VariableWithShape(name, value.Shape())
	v.value = value
	return v
}

// NumVariables returns the number of variables created in the Context, over
// all scopes.
func (ctx *Context) NumVariables() int { return len(ctx.data.variablesInOrder) }

// EnumerateVariables calls fn for each variable in the Context, over all
// scopes, in creation order.
func (ctx *Context) EnumerateVariables(fn func(v *Variable)) {
	for _, v := range ctx.data.variablesInOrder {
		fn(v)
	}
}

// Variables returns all variables of the Context, over all scopes, in
// creation order. The returned slice is a copy.
func (ctx *Context) Variables() []*Variable {
	vars := make([]*Variable, len(ctx.data.variablesInOrder))
	copy(vars, ctx.data.variablesInOrder)
	return vars
}

// VariablesInScope returns the variables whose fully-qualified name starts
// with the given scope prefix, in creation order. An empty prefix returns all
// variables.
func (ctx *Context) VariablesInScope(scope string) []*Variable {
	var vars []*Variable
	for _, v := range ctx.data.variablesInOrder {
		if strings.HasPrefix(v.FullName(), scope) {
			vars = append(vars, v)
		}
	}
	return vars
}

// InspectVariable returns the variable with the given scope and name, or nil
// if it doesn't exist.
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	qualified := name
	if scope != "" {
		qualified = scope + ScopeSeparator + name
	}
	return ctx.data.variablesByQualified[qualified]
}
