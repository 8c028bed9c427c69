package grid

// Migrate builds a new grid over the given axes from old. A new cell whose
// ticks both exist in old is copied exactly, visited flag included. Any
// other cell takes the value of the nearest old cell but stays unvisited.
// Without a usable old grid every cell is derived from model.
func Migrate(old *Grid, primary, secondary Axis, model Model) *Grid {
	next := NewGrid(primary, secondary)
	usable := old != nil && old.Len() > 0

	for r, s := range next.secondary {
		for c, p := range next.primary {
			loc := Location{Row: r, Col: c}
			if !usable {
				next.set(loc, Cell{Value: model.Derive(p, s)})
				continue
			}

			oc, pok := old.primary.Index(p)
			or, sok := old.secondary.Index(s)
			if pok && sok {
				next.set(loc, old.At(Location{Row: or, Col: oc}))
				continue
			}

			src := old.Resolve(p, s)
			next.set(loc, Cell{Value: old.At(src).Value})
		}
	}
	return next
}
