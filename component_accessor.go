package loom

// Field returns the values of term i typed as T.
func (c Component[T]) Field(it *Iter, i int) []T {
	return Field[T](it, i)
}

// FieldAt returns the value of term i for one row of the result.
func (c Component[T]) FieldAt(it *Iter, i, row int) *T {
	return FieldAt[T](it, i, row)
}

// Check reports whether term i matched c in the current result.
func (c Component[T]) Check(it *Iter, i int) bool {
	return it.IsSet(i) && it.FieldID(i).Matches(c.id)
}

// GetFromIter returns the value of c for a row of the current result,
// looked up on the entity itself.
func (c Component[T]) GetFromIter(it *Iter, row int) *T {
	return (*T)(it.w.Get(it.Entity(row), c.id))
}
