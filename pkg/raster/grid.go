// Package raster provides the opaque grid value type exchanged between the
// computation core, the persisted store and external strategy implementations.
// A grid is a flat slice of float64 cells; NaN marks a void cell and
// propagates through every cell-wise operation.
package raster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Grid is a flat raster of float64 cells. The core never interprets its
// shape; only its length must agree across grids that are combined.
type Grid []float64

// Void returns a grid of n cells, all NaN.
func Void(n int) Grid {
	g := make(Grid, n)
	for i := range g {
		g[i] = math.NaN()
	}
	return g
}

// Clone returns an independent copy of the grid.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	copy(out, g)
	return out
}

// IsVoid reports whether every cell is NaN.
func (g Grid) IsVoid() bool {
	for _, v := range g {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Sum computes the cell-wise sum of the given grids. A NaN in any input cell
// makes the output cell NaN. All grids must share the same length.
func Sum(grids []Grid) (Grid, error) {
	return combine(grids, func(acc, v float64) float64 { return acc + v })
}

// Mean computes the cell-wise arithmetic mean of the given grids, with the
// same NaN propagation as Sum.
func Mean(grids []Grid) (Grid, error) {
	sum, err := Sum(grids)
	if err != nil {
		return nil, err
	}
	n := float64(len(grids))
	for i := range sum {
		sum[i] /= n
	}
	return sum, nil
}

func combine(grids []Grid, op func(acc, v float64) float64) (Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("raster: no grids to combine")
	}
	out := grids[0].Clone()
	for _, g := range grids[1:] {
		if len(g) != len(out) {
			return nil, fmt.Errorf("raster: grid size mismatch: %d != %d", len(g), len(out))
		}
		for i, v := range g {
			out[i] = op(out[i], v)
		}
	}
	return out, nil
}

// MarshalJSON encodes the grid as a JSON array with null for NaN cells,
// since NaN is not representable in JSON.
func (g Grid) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) {
			buf.WriteString("null")
		} else {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON array produced by MarshalJSON, mapping null
// back to NaN.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Grid, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	*g = out
	return nil
}
