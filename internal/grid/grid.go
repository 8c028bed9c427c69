package grid

// Cell is one entry of the table.
type Cell struct {
	Value   float64 `json:"value"`
	Visited bool    `json:"visited"`
}

// Location addresses a cell. Row indexes the secondary axis and Col the
// primary axis.
type Location struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// ResolveCell maps an operating point to the nearest cell of the given
// axes. It depends on nothing but its arguments.
func ResolveCell(primary, secondary Axis, p, s float64) Location {
	return Location{Row: secondary.Nearest(s), Col: primary.Nearest(p)}
}

// Grid is a len(secondary) x len(primary) array of cells. Its dimensions
// always match its axes; a different shape means a different Grid.
type Grid struct {
	primary   Axis
	secondary Axis
	cells     []Cell
}

// NewGrid returns a grid of unvisited zero cells.
func NewGrid(primary, secondary Axis) *Grid {
	return &Grid{
		primary:   primary.clone(),
		secondary: secondary.clone(),
		cells:     make([]Cell, len(primary)*len(secondary)),
	}
}

func (g *Grid) Primary() Axis   { return g.primary.clone() }
func (g *Grid) Secondary() Axis { return g.secondary.clone() }
func (g *Grid) Rows() int       { return len(g.secondary) }
func (g *Grid) Cols() int       { return len(g.primary) }

func (g *Grid) index(loc Location) int { return loc.Row*len(g.primary) + loc.Col }

// Contains reports whether loc lies inside the grid.
func (g *Grid) Contains(loc Location) bool {
	return loc.Row >= 0 && loc.Row < g.Rows() && loc.Col >= 0 && loc.Col < g.Cols()
}

// At returns the cell at loc. loc must be inside the grid.
func (g *Grid) At(loc Location) Cell { return g.cells[g.index(loc)] }

func (g *Grid) set(loc Location, c Cell) { g.cells[g.index(loc)] = c }

// Resolve returns the cell nearest to (p, s).
func (g *Grid) Resolve(p, s float64) Location {
	return ResolveCell(g.primary, g.secondary, p, s)
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	return &Grid{
		primary:   g.primary.clone(),
		secondary: g.secondary.clone(),
		cells:     append([]Cell(nil), g.cells...),
	}
}

// Rows2D returns the cells as rows of the secondary axis.
func (g *Grid) Rows2D() [][]Cell {
	out := make([][]Cell, g.Rows())
	for r := range out {
		out[r] = append([]Cell(nil), g.cells[r*g.Cols():(r+1)*g.Cols()]...)
	}
	return out
}

// VisitedMap returns the visited flags as rows of the secondary axis.
func (g *Grid) VisitedMap() [][]bool {
	out := make([][]bool, g.Rows())
	for r := range out {
		out[r] = make([]bool, g.Cols())
		for c := range out[r] {
			out[r][c] = g.At(Location{Row: r, Col: c}).Visited
		}
	}
	return out
}

// VisitedCount returns the number of visited cells.
func (g *Grid) VisitedCount() int {
	n := 0
	for _, c := range g.cells {
		if c.Visited {
			n++
		}
	}
	return n
}

// Len returns the total number of cells.
func (g *Grid) Len() int { return len(g.cells) }
