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
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/voxelml/voxelml/types/tensors"
	"k8s.io/klog/v2"
)

// histogramBuckets is the fixed number of buckets used by histogram
// summaries.
const histogramBuckets = 20

// Writer renders summary values under a directory: scalars are appended to
// "scalars.tsv", histograms to "histograms.jsonl" and images are saved as
// PNG files named "<name>-<step>.png".
type Writer struct {
	dir string
}

// NewWriter creates a Writer rendering into dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, errors.Wrapf(err, "summary.NewWriter: failed to create directory %q", dir)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the directory the Writer renders into.
func (w *Writer) Dir() string { return w.dir }

// Write renders the given summaries for one global step. The summary nodes
// must be evaluable (see graph.Node.Eval) -- the execution driver hands them
// over as constants.
func (w *Writer) Write(step int64, ops ...*Op) error {
	for _, op := range ops {
		value := op.Node().Eval()
		var err error
		switch op.Kind() {
		case KindScalar:
			err = w.writeScalar(step, op.Name(), value)
		case KindHistogram:
			err = w.writeHistogram(step, op.Name(), value)
		case KindImage:
			err = w.writeImage(step, op.Name(), imageFromMatrix(matrixFromTensor(value)))
		case KindImage3Sagittal:
			err = w.writeImage(step, op.Name(), imageFromMatrix(middleSlice(value, 0)))
		case KindImage3Coronal:
			err = w.writeImage(step, op.Name(), imageFromMatrix(middleSlice(value, 1)))
		case KindImage3Axial:
			err = w.writeImage(step, op.Name(), imageFromMatrix(middleSlice(value, 2)))
		}
		if err != nil {
			return errors.WithMessagef(err, "writing %s at step %d", op, step)
		}
	}
	klog.V(1).Infof("summary.Writer: wrote %d summaries at step %d to %q", len(ops), step, w.dir)
	return nil
}

func (w *Writer) appendLine(fileName, line string) error {
	path := filepath.Join(w.dir, fileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", path)
	}
	if _, err = f.WriteString(line); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to append to %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

func (w *Writer) writeScalar(step int64, name string, value *tensors.Local) error {
	return w.appendLine("scalars.tsv", fmt.Sprintf("%d\t%s\t%g\n", step, name, value.FlatFloat64()[0]))
}

func (w *Writer) writeHistogram(step int64, name string, value *tensors.Local) error {
	flat := value.FlatFloat64()
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range flat {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	counts := make([]int, histogramBuckets)
	if max > min {
		scale := float64(histogramBuckets) / (max - min)
		for _, v := range flat {
			bucket := int((v - min) * scale)
			if bucket >= histogramBuckets {
				bucket = histogramBuckets - 1
			}
			counts[bucket]++
		}
	} else {
		counts[0] = len(flat)
	}
	record := struct {
		Step   int64
		Name   string
		Min    float64
		Max    float64
		Counts []int
	}{Step: step, Name: name, Min: min, Max: max, Counts: counts}
	encoded, err := json.Marshal(&record)
	if err != nil {
		return errors.Wrapf(err, "failed to encode histogram %q", name)
	}
	return w.appendLine("histograms.jsonl", string(encoded)+"\n")
}

func (w *Writer) writeImage(step int64, name string, img image.Image) error {
	fileName := fmt.Sprintf("%s-%08d.png", strings.ReplaceAll(name, "/", "_"), step)
	path := filepath.Join(w.dir, fileName)
	// Volumes are stored bottom-up; flip to the usual display orientation.
	if err := imaging.Save(imaging.FlipV(img), path); err != nil {
		return errors.Wrapf(err, "failed to save image %q", path)
	}
	return nil
}

// matrix is a dense 2D block of float64 values.
type matrix struct {
	rows, cols int
	values     []float64
}

// matrixFromTensor converts a rank-2 tensor (or rank-3 with the channels axis
// reduced to its first channel) to a matrix.
func matrixFromTensor(t *tensors.Local) matrix {
	shape := t.Shape()
	flat := t.FlatFloat64()
	if shape.Rank() == 3 {
		// Keep the first channel only.
		channels := shape.Dim(2)
		reduced := make([]float64, shape.Dim(0)*shape.Dim(1))
		for ii := range reduced {
			reduced[ii] = flat[ii*channels]
		}
		flat = reduced
	}
	return matrix{rows: shape.Dim(0), cols: shape.Dim(1), values: flat}
}

// middleSlice extracts the middle 2D slice of a rank-3 volume along the given
// axis: 0 for sagittal, 1 for coronal, 2 for axial views.
func middleSlice(t *tensors.Local, axis int) matrix {
	shape := t.Shape()
	dims := shape.Dimensions
	flat := t.FlatFloat64()
	mid := dims[axis] / 2
	var m matrix
	switch axis {
	case 0:
		m = matrix{rows: dims[1], cols: dims[2]}
		m.values = flat[mid*dims[1]*dims[2] : (mid+1)*dims[1]*dims[2]]
	case 1:
		m = matrix{rows: dims[0], cols: dims[2], values: make([]float64, dims[0]*dims[2])}
		for i := 0; i < dims[0]; i++ {
			copy(m.values[i*dims[2]:(i+1)*dims[2]], flat[(i*dims[1]+mid)*dims[2]:(i*dims[1]+mid+1)*dims[2]])
		}
	case 2:
		m = matrix{rows: dims[0], cols: dims[1], values: make([]float64, dims[0]*dims[1])}
		for i := 0; i < dims[0]; i++ {
			for j := 0; j < dims[1]; j++ {
				m.values[i*dims[1]+j] = flat[(i*dims[1]+j)*dims[2]+mid]
			}
		}
	}
	return m
}

// imageFromMatrix renders a matrix as a grayscale image, normalizing values
// to the full intensity range.
func imageFromMatrix(m matrix) image.Image {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range m.values {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	scale := 0.0
	if max > min {
		scale = 255.0 / (max - min)
	}
	img := image.NewGray(image.Rect(0, 0, m.cols, m.rows))
	for row := 0; row < m.rows; row++ {
		for col := 0; col < m.cols; col++ {
			v := (m.values[row*m.cols+col] - min) * scale
			img.SetGray(col, row, color.Gray{Y: uint8(v)})
		}
	}
	return img
}
