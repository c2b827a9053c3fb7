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

// Package checkpoints implements reading and writing of variable checkpoints.
//
// A checkpoint is an external, named snapshot of previously trained variable
// values. On disk it is a pair of files sharing the checkpoint id as base
// name: a JSON metadata file (named tensor entries with shape and position)
// and a raw binary data file with the tensor contents.
//
// The Resolver interface is the boundary consumed by the restore package:
// it maps a logical checkpoint id to a concrete Handle and lists the named
// tensors a checkpoint contains. DirResolver is the file-backed
// implementation. A missing checkpoint surfaces as an error wrapping
// ErrNotFound -- the restore package propagates it and aborts setup, there is
// no retry.
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/voxelml/voxelml/ml/context"
	"github.com/voxelml/voxelml/ml/context/initializers"
	"github.com/voxelml/voxelml/types/shapes"
	"github.com/voxelml/voxelml/types/tensors"
	"github.com/voxelml/voxelml/types/xslices"
	"k8s.io/klog/v2"
)

const (
	metadataSuffix = ".json"
	dataSuffix     = ".bin"
)

// FilePermMode is the default file creation permission (before umask) used
// for checkpoint files.
var FilePermMode = os.FileMode(0660)

// ErrNotFound is wrapped by the errors returned when a checkpoint id cannot
// be resolved to an existing checkpoint. Check for it with errors.Is.
var ErrNotFound = errors.New("checkpoint not found")

// Entry describes one named tensor stored in a checkpoint.
type Entry struct {
	Name  string
	Shape shapes.Shape
}

// Handle is a resolved checkpoint: the concrete files behind a checkpoint id.
type Handle struct {
	id                     string
	metadataPath, dataPath string

	// meta is lazily decoded on first access.
	meta *serializedData
}

// ID returns the checkpoint id this handle was resolved from.
func (h *Handle) ID() string { return h.id }

// String implements fmt.Stringer.
func (h *Handle) String() string { return "checkpoint " + h.id }

// Resolver maps logical checkpoint ids to concrete checkpoints and lists
// their contents. It is the external-collaborator boundary of the restore
// algorithm.
type Resolver interface {
	// Resolve returns a Handle for the given checkpoint id. A missing
	// checkpoint returns an error wrapping ErrNotFound.
	Resolve(checkpointID string) (*Handle, error)

	// ListEntries returns the named tensors stored in the checkpoint, in
	// storage order.
	ListEntries(h *Handle) ([]Entry, error)
}

// TensorReader reads a single named tensor value out of a resolved
// checkpoint.
type TensorReader interface {
	ReadTensor(h *Handle, name string) (*tensors.Local, error)
}

// Store combines resolution and tensor reading. DirResolver implements it.
type Store interface {
	Resolver
	TensorReader
}

// serializedVar describes one tensor in the metadata file.
type serializedVar struct {
	// Name of the tensor within the checkpoint.
	Name string

	// Dimensions of the shape.
	Dimensions []int

	// DType of the shape.
	DType dtypes.DType

	// Pos, Length in bytes in the data file.
	Pos, Length int
}

// serializedData is how the metadata file is read and written.
type serializedData struct {
	Variables []serializedVar
}

func (v *serializedVar) shape() shapes.Shape {
	return shapes.Shape{DType: v.DType, Dimensions: v.Dimensions}
}

// DirResolver resolves checkpoint ids to file pairs under a base directory:
// "<dir>/<id>.json" and "<dir>/<id>.bin".
type DirResolver struct {
	dir string
}

// NewDirResolver creates a DirResolver over the given base directory.
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{dir: dir}
}

// Dir returns the base directory of the resolver.
func (r *DirResolver) Dir() string { return r.dir }

// Resolve implements Resolver.
func (r *DirResolver) Resolve(checkpointID string) (*Handle, error) {
	if checkpointID == "" {
		return nil, errors.Wrap(ErrNotFound, "empty checkpoint id")
	}
	h := &Handle{
		id:           checkpointID,
		metadataPath: filepath.Join(r.dir, checkpointID+metadataSuffix),
		dataPath:     filepath.Join(r.dir, checkpointID+dataSuffix),
	}
	for _, path := range []string{h.metadataPath, h.dataPath} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrNotFound, "checkpoint %q: missing file %q", checkpointID, path)
			}
			return nil, errors.Wrapf(err, "checkpoint %q: failed to stat %q", checkpointID, path)
		}
	}
	return h, nil
}

// metadata decodes (once) and returns the metadata of a resolved checkpoint.
func (r *DirResolver) metadata(h *Handle) (*serializedData, error) {
	if h.meta != nil {
		return h.meta, nil
	}
	f, err := os.Open(h.metadataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to open metadata file %q", h, h.metadataPath)
	}
	defer func() { _ = f.Close() }()
	var meta serializedData
	if err = json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to decode metadata file %q", h, h.metadataPath)
	}
	h.meta = &meta
	return h.meta, nil
}

// ListEntries implements Resolver. Entries are returned in storage order.
func (r *DirResolver) ListEntries(h *Handle) ([]Entry, error) {
	meta, err := r.metadata(h)
	if err != nil {
		return nil, err
	}
	entries := xslices.Map(meta.Variables, func(v serializedVar) Entry {
		return Entry{Name: v.Name, Shape: v.shape()}
	})
	klog.V(1).Infof("%s: listed %d entries", h, len(entries))
	return entries, nil
}

// ReadTensor implements TensorReader: it materializes the named tensor from
// the checkpoint's data file.
func (r *DirResolver) ReadTensor(h *Handle, name string) (*tensors.Local, error) {
	meta, err := r.metadata(h)
	if err != nil {
		return nil, err
	}
	for _, v := range meta.Variables {
		if v.Name != name {
			continue
		}
		t := tensors.FromShape(v.shape())
		if int(t.Memory()) != v.Length {
			return nil, errors.Errorf("%s: entry %q declares %d bytes, shape %s needs %d",
				h, name, v.Length, t.Shape(), t.Memory())
		}
		f, err := os.Open(h.dataPath)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: failed to open data file %q", h, h.dataPath)
		}
		defer func() { _ = f.Close() }()
		if _, err = f.ReadAt(t.Bytes(), int64(v.Pos)); err != nil {
			return nil, errors.Wrapf(err, "%s: failed to read entry %q at position %d", h, name, v.Pos)
		}
		klog.V(2).Infof("%s: read entry %q (%s, %s)", h, name, t.Shape(), humanize.Bytes(uint64(t.Memory())))
		return t, nil
	}
	return nil, errors.Errorf("%s: no entry named %q", h, name)
}

// Save writes a checkpoint with the given values under dir, keyed by
// checkpointID. Entries are stored sorted by name, so checkpoints with the
// same contents are byte-identical.
func Save(dir, checkpointID string, values map[string]*tensors.Local) error {
	if checkpointID == "" {
		return errors.New("checkpoints.Save: empty checkpoint id")
	}
	if err := os.MkdirAll(dir, 0770); err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to create directory %q", dir)
	}
	dataPath := filepath.Join(dir, checkpointID+dataSuffix)
	dataFile, err := os.OpenFile(dataPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermMode)
	if err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to create data file %q", dataPath)
	}

	var meta serializedData
	pos := 0
	for _, name := range xslices.SortedKeys(values) {
		t := values[name]
		raw := t.Bytes()
		n, err := dataFile.Write(raw)
		if err != nil {
			return errors.Wrapf(err, "checkpoints.Save: failed to write entry %q", name)
		}
		if n != len(raw) {
			return errors.Errorf("checkpoints.Save: entry %q: %d bytes requested, %d written", name, len(raw), n)
		}
		meta.Variables = append(meta.Variables, serializedVar{
			Name:       name,
			Dimensions: t.Shape().Dimensions,
			DType:      t.DType(),
			Pos:        pos,
			Length:     len(raw),
		})
		pos += len(raw)
	}
	if err = dataFile.Close(); err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to close data file %q", dataPath)
	}

	metadataPath := filepath.Join(dir, checkpointID+metadataSuffix)
	metadataFile, err := os.OpenFile(metadataPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermMode)
	if err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to create metadata file %q", metadataPath)
	}
	enc := json.NewEncoder(metadataFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(&meta); err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to encode metadata file %q", metadataPath)
	}
	if err = metadataFile.Close(); err != nil {
		return errors.Wrapf(err, "checkpoints.Save: failed to close metadata file %q", metadataPath)
	}
	klog.V(1).Infof("checkpoint %q: saved %d entries (%s)", checkpointID, len(meta.Variables),
		humanize.Bytes(uint64(pos)))
	return nil
}

// SaveContext saves all initialized variables of a Context as a checkpoint,
// keyed by their fully-qualified names.
func SaveContext(dir, checkpointID string, ctx *context.Context) error {
	values := make(map[string]*tensors.Local, ctx.NumVariables())
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.IsInitialized() {
			values[v.FullName()] = v.Value()
		}
	})
	return Save(dir, checkpointID, values)
}

// RestoreInitializer returns a variable initializer bound to a single named
// tensor of a checkpoint: leafName within subScope (empty subScope means the
// checkpoint root). The value's shape is validated against the variable's
// shape when the initializer runs.
func RestoreInitializer(store Store, checkpointID, leafName, subScope string) initializers.VariableInitializer {
	name := leafName
	if subScope != "" {
		name = subScope + context.ScopeSeparator + leafName
	}
	return func(shape shapes.Shape) (*tensors.Local, error) {
		h, err := store.Resolve(checkpointID)
		if err != nil {
			return nil, err
		}
		t, err := store.ReadTensor(h, name)
		if err != nil {
			return nil, err
		}
		if !t.Shape().Equal(shape) {
			return nil, errors.Errorf("%s: entry %q has shape %s, variable expects %s",
				h, name, t.Shape(), shape)
		}
		return t, nil
	}
}
