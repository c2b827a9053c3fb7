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

// voxelml_checkpoints inspects VoxelML checkpoint files.
//
// Usage:
//
//	voxelml_checkpoints -dir <checkpoints_dir> <checkpoint_id>
//
// It lists the tensors stored in the checkpoint, with their shapes and sizes,
// optionally filtered by a scope prefix.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/voxelml/voxelml/ml/context/checkpoints"
	"k8s.io/klog/v2"
)

var (
	flagDir   = flag.String("dir", ".", "Directory holding the checkpoint files.")
	flagScope = flag.String("scope", "", "Only list entries whose name starts with this prefix.")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).
			Padding(0, 1, 0, 1)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() != 1 {
		klog.Errorf("Missing checkpoint id to inspect. See 'voxelml_checkpoints -help'.")
		os.Exit(1)
	}
	checkpointID := flag.Arg(0)

	resolver := checkpoints.NewDirResolver(*flagDir)
	handle := must.M1(resolver.Resolve(checkpointID))
	entries := must.M1(resolver.ListEntries(handle))

	fmt.Println(titleStyle.Render(fmt.Sprintf("Entries of checkpoint %q", checkpointID)))
	table := newPlainTable()
	table.Headers("Name", "Shape", "Size", "Bytes")
	var totalSize, totalBytes uint64
	var listed int
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name, *flagScope) {
			continue
		}
		listed++
		totalSize += uint64(entry.Shape.Size())
		totalBytes += uint64(entry.Shape.Memory())
		table.Row(entry.Name, entry.Shape.String(),
			humanize.Comma(int64(entry.Shape.Size())),
			humanize.Bytes(uint64(entry.Shape.Memory())))
	}
	fmt.Println(table.Render())
	fmt.Printf("%d entries, %s parameters, %s\n", listed,
		humanize.Comma(int64(totalSize)), humanize.Bytes(totalBytes))
}
