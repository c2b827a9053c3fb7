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

// Package restore selectively initializes the variables of a Context from
// previously saved checkpoints.
//
// During graph construction, model code appends entries to a Registry: "the
// variables under this scope should be restored from that checkpoint, where
// they live under this other scope prefix". After construction,
// InitOrRestore consumes the Registry and produces a single InitOp that,
// when run, restores every matched variable from its resolved checkpoint and
// freshly initializes all the others.
//
// Entries are processed sorted by scope ascending, and a variable claimed by
// one entry is never restored again by a later one. For slash-delimited
// scope hierarchies this means an ancestor scope takes precedence over any
// of its descendants when both claim the same variable.
package restore

import (
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/voxelml/voxelml/ml/context"
	"github.com/voxelml/voxelml/ml/context/checkpoints"
	"github.com/voxelml/voxelml/ml/context/initializers"
	"github.com/voxelml/voxelml/types"
	"k8s.io/klog/v2"
)

// Entry records an intent to restore the variables under Scope from the
// checkpoint identified by CheckpointID, where they are stored under
// CheckpointScope instead of Scope. Immutable once recorded.
type Entry struct {
	// Scope is the prefix of the fully-qualified variable names to restore.
	// Empty means every variable.
	Scope string

	// CheckpointID is the logical checkpoint identifier, resolved through a
	// checkpoints.Resolver at restore time.
	CheckpointID string

	// CheckpointScope replaces Scope when mapping a variable name to its name
	// inside the checkpoint.
	CheckpointScope string
}

// Registry is an append-only collection of restore entries, owned by the
// graph-construction context. It replaces an implicit process-wide
// collection: construction code appends to it directly.
type Registry struct {
	entries []Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records an entry. CheckpointID cannot be empty; an empty scope matches
// every variable, and an empty checkpointScope maps variables to the
// checkpoint root.
func (r *Registry) Add(scope, checkpointID, checkpointScope string) {
	if checkpointID == "" {
		exceptions.Panicf("restore.Registry.Add(scope=%q): checkpoint id cannot be empty", scope)
	}
	r.entries = append(r.entries, Entry{Scope: scope, CheckpointID: checkpointID, CheckpointScope: checkpointScope})
}

// Len returns the number of recorded entries.
func (r *Registry) Len() int { return len(r.entries) }

// Entries returns a copy of the recorded entries sorted by scope ascending --
// the precedence order used by InitOrRestore. Entries with equal scopes keep
// their registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Scope < entries[j].Scope })
	return entries
}

// assignment binds one variable to the initializer that restores its value.
type assignment struct {
	v            *context.Variable
	checkpointID string
	init         initializers.VariableInitializer
}

// InitOp is the single combined operation produced by InitOrRestore: running
// it performs all recorded restorations and all fresh initializations. It is
// idempotent to re-run -- each run re-applies the same assignments -- but is
// intended to run exactly once at session start.
type InitOp struct {
	restored  []assignment
	fresh     []*context.Variable
	freshInit initializers.VariableInitializer
}

// WithFreshInitializer replaces the initializer used for variables not
// claimed by any checkpoint. The default is initializers.Zero. Returns
// itself, so calls can be cascaded.
func (op *InitOp) WithFreshInitializer(init initializers.VariableInitializer) *InitOp {
	op.freshInit = init
	return op
}

// NumRestored returns the number of variables restored from checkpoints.
func (op *InitOp) NumRestored() int { return len(op.restored) }

// NumFresh returns the number of variables receiving fresh initialization.
func (op *InitOp) NumFresh() int { return len(op.fresh) }

// Restored returns the restored variables, in the order they were claimed.
func (op *InitOp) Restored() []*context.Variable {
	vars := make([]*context.Variable, len(op.restored))
	for ii, a := range op.restored {
		vars[ii] = a.v
	}
	return vars
}

// Fresh returns the variables receiving fresh initialization.
func (op *InitOp) Fresh() []*context.Variable {
	vars := make([]*context.Variable, len(op.fresh))
	copy(vars, op.fresh)
	return vars
}

// Source returns the checkpoint id a variable is restored from, and whether
// the variable is restored at all.
func (op *InitOp) Source(v *context.Variable) (checkpointID string, restored bool) {
	for _, a := range op.restored {
		if a.v == v {
			return a.checkpointID, true
		}
	}
	return "", false
}

// Run applies all assignments: restored variables get their checkpoint
// values, the remaining ones get fresh values.
func (op *InitOp) Run() error {
	for _, a := range op.restored {
		value, err := a.init(a.v.Shape())
		if err != nil {
			return errors.WithMessagef(err, "restoring variable %q from checkpoint %q", a.v.FullName(), a.checkpointID)
		}
		a.v.SetValue(value)
	}
	for _, v := range op.fresh {
		value, err := op.freshInit(v.Shape())
		if err != nil {
			return errors.WithMessagef(err, "initializing variable %q", v.FullName())
		}
		v.SetValue(value)
	}
	klog.V(1).Infof("restore.InitOp: restored %d variables, freshly initialized %d", len(op.restored), len(op.fresh))
	return nil
}

// checkpointRelativeName maps a variable's parameter name to its name inside
// the entry's checkpoint: the entry scope prefix is substituted by the
// checkpoint scope, and the output suffix (everything from the first ":") is
// stripped.
func checkpointRelativeName(e Entry, parameterName string) string {
	name := e.CheckpointScope + strings.TrimPrefix(parameterName, e.Scope)
	if idx := strings.Index(name, context.OutputSuffixSeparator); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// splitSubScope splits a checkpoint-relative name at the last separator into
// a sub-scope and a leaf name. A name with no separator has an empty
// sub-scope.
func splitSubScope(name string) (subScope, leaf string) {
	if idx := strings.LastIndex(name, context.ScopeSeparator); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

// InitOrRestore builds the InitOp covering varList: for each Registry entry,
// in scope order, variables under the entry's scope that are present in the
// entry's checkpoint are claimed for restoration; every variable of varList
// left unclaimed falls through to fresh initialization -- that is the
// documented default path, not an error.
//
// A nil varList defaults to all variables of the Context. A checkpoint that
// fails to resolve aborts with the resolver's error.
func InitOrRestore(ctx *context.Context, registry *Registry, store checkpoints.Store, varList []*context.Variable) (*InitOp, error) {
	if varList == nil {
		varList = ctx.Variables()
	}
	varSet := types.SetWith(varList...)

	op := &InitOp{freshInit: initializers.Zero}
	claimed := types.MakeSet[*context.Variable]()
	for _, entry := range registry.Entries() {
		handle, err := store.Resolve(entry.CheckpointID)
		if err != nil {
			return nil, errors.WithMessagef(err, "restore entry for scope %q", entry.Scope)
		}
		fileEntries, err := store.ListEntries(handle)
		if err != nil {
			return nil, errors.WithMessagef(err, "restore entry for scope %q", entry.Scope)
		}
		inFile := types.MakeSet[string](len(fileEntries))
		for _, fileEntry := range fileEntries {
			inFile.Insert(fileEntry.Name)
		}

		for _, v := range ctx.VariablesInScope(entry.Scope) {
			if !varSet.Has(v) {
				continue
			}
			relativeName := checkpointRelativeName(entry, v.ParameterName())
			if !inFile.Has(relativeName) {
				continue
			}
			if claimed.Has(v) {
				// Already claimed by an earlier (higher precedence) entry.
				continue
			}
			claimed.Insert(v)
			subScope, leaf := splitSubScope(relativeName)
			op.restored = append(op.restored, assignment{
				v:            v,
				checkpointID: entry.CheckpointID,
				init:         checkpoints.RestoreInitializer(store, entry.CheckpointID, leaf, subScope),
			})
			klog.V(2).Infof("restore: variable %q claimed by scope %q -> %s:%q",
				v.FullName(), entry.Scope, entry.CheckpointID, relativeName)
		}
	}

	for _, v := range varList {
		if !claimed.Has(v) {
			op.fresh = append(op.fresh, v)
		}
	}
	return op, nil
}
