package match

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GridSizes maps the size labels clients may pick to grid dimensions.
//
//nolint:gochecknoglobals
var GridSizes = map[string]int{
	"3x3": 3,
	"4x4": 4,
	"5x5": 5,
	"6x6": 6,
	"8x8": 8,
}

// Grid is a square boolean matrix indexed as grid[x][y].
type Grid [][]bool

func NewGrid(size int) Grid {
	grid := make(Grid, size)
	for x := range grid {
		grid[x] = make([]bool, size)
	}

	return grid
}

// GridWith builds a grid of the given size with the listed cells set.
func GridWith(size int, cells ...[2]int) Grid {
	grid := NewGrid(size)
	for _, cell := range cells {
		grid[cell[0]][cell[1]] = true
	}

	return grid
}

func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}

	result := make(Grid, len(g))
	for x := range g {
		result[x] = append([]bool(nil), g[x]...)
	}

	return result
}

func (g Grid) Count() int {
	count := 0

	for _, column := range g {
		for _, set := range column {
			if set {
				count++
			}
		}
	}

	return count
}

// IsSquare reports whether every column has exactly size cells.
func (g Grid) IsSquare(size int) bool {
	if len(g) != size {
		return false
	}

	for _, column := range g {
		if len(column) != size {
			return false
		}
	}

	return true
}

func (g Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < len(g) && y < len(g[x])
}

// RandomGrid places exactly bombs mines uniformly at random on a size×size grid.
func RandomGrid(size, bombs int) (Grid, error) {
	cells := size * size
	if bombs < 0 || bombs > cells {
		return nil, fmt.Errorf("%w: cannot place %d bombs on %d cells", ErrBombCount, bombs, cells)
	}

	order := make([]int, cells)
	for i := range order {
		order[i] = i
	}

	// partial Fisher-Yates: the first bombs entries become the mined cells
	for i := range bombs {
		randIdx, err := rand.Int(rand.Reader, big.NewInt(int64(cells-i)))
		if err != nil {
			return nil, fmt.Errorf("failed to generate random index: %w", err)
		}

		j := i + int(randIdx.Int64())
		order[i], order[j] = order[j], order[i]
	}

	grid := NewGrid(size)
	for _, cell := range order[:bombs] {
		grid[cell/size][cell%size] = true
	}

	return grid, nil
}
