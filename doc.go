/*
Package loom provides an archetype based entity component system with
first class relationships.

Loom stores entities with the same set of components together in
archetypes, one column per component. Pairs of a relationship and a
target are ids like any other, so an entity can be a child of another,
inherit from a prefab, or carry any user defined relationship.

Core Concepts:

  - ID: a 64 bit entity, component or pair identifier.
  - Archetype: the storage of all entities with one exact set of ids.
  - Record: the index entry of an id, listing the archetypes that hold it.
  - Stage: an execution context that can defer mutations while storage is
    iterated.
  - Query: a compiled program of terms, matched with relationship
    traversal and variables.

Basic Usage:

	w, _ := loom.Factory.NewWorld()

	position, _ := loom.FactoryNewComponent[Position](w)
	velocity, _ := loom.FactoryNewComponent[Velocity](w)

	e := w.New()
	_ = position.Set(w, e, Position{})
	_ = velocity.Set(w, e, Velocity{X: 1})

	q, _ := loom.Factory.NewQuery(w, loom.QueryDesc{Terms: []loom.Term{
		{ID: position.ID()},
		{ID: velocity.ID(), InOut: loom.In},
	}})
	it := q.Iter()
	for it.Next() {
		pos, vel := position.Field(it, 0), velocity.Field(it, 1)
		for i := range pos {
			pos[i].X += vel[i].X
		}
	}

Relationships:

	parent := w.New()
	child := w.New()
	_ = w.Add(child, loom.Pair(loom.ChildOf, parent))

	// match Health on the entity or any of its ChildOf ancestors
	q, _ := w.Query(loom.QueryDesc{Terms: []loom.Term{
		{ID: health.ID(), Self: true, Up: true},
	}})

Mutations made while a query iterates are queued on the stage and applied
when iteration ends.
*/
package loom
