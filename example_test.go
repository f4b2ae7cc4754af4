package loom_test

import (
	"fmt"

	"github.com/TheBitDrifter/loom"
	"go.uber.org/zap"
)

type Position struct {
	X float64
	Y float64
}

type Velocity struct {
	X float64
	Y float64
}

// Example shows basic world usage with entity creation and queries
func Example_basic() {
	world, err := loom.Factory.NewWorld(loom.WithLogger(zap.NewNop()))
	if err != nil {
		panic(err)
	}
	defer world.Fini()

	position, _ := loom.FactoryNewComponent[Position](world)
	velocity, _ := loom.FactoryNewComponent[Velocity](world)

	for i := range 4 {
		e := world.New()
		position.Set(world, e, Position{X: float64(i)})
		velocity.Set(world, e, Velocity{X: 1, Y: 2})
	}
	for range 5 {
		position.Add(world, world.New())
	}

	player := world.New()
	world.SetName(player, "Player")
	position.Set(world, player, Position{X: 10, Y: 20})
	velocity.Set(world, player, Velocity{X: 1, Y: 2})

	query, _ := loom.Factory.NewQuery(world, loom.QueryDesc{Terms: []loom.Term{
		{ID: position.ID()},
		{ID: velocity.ID(), InOut: loom.In},
	}})
	fmt.Printf("Found %d entities with position and velocity\n", query.Count())

	query.Each(func(it *loom.Iter, row int) {
		pos := position.FieldAt(it, 0, row)
		vel := velocity.FieldAt(it, 1, row)
		pos.X += vel.X
		pos.Y += vel.Y
	})
	pos := position.Get(world, world.Lookup("Player"))
	fmt.Printf("Updated %s to position (%.1f, %.1f)\n", world.Name(player), pos.X, pos.Y)

	// Output:
	// Found 5 entities with position and velocity
	// Updated Player to position (11.0, 22.0)
}

// Example_queries shows how to use different query operators
func Example_queries() {
	world, _ := loom.NewWorld(loom.WithLogger(zap.NewNop()))
	defer world.Fini()

	position, _ := loom.FactoryNewComponent[Position](world)
	velocity, _ := loom.FactoryNewComponent[Velocity](world)
	tag := world.New()

	spawn := func(n int, ids ...loom.ID) {
		for range n {
			e := world.New()
			for _, id := range ids {
				world.Add(e, id)
			}
		}
	}
	spawn(3, position.ID())
	spawn(3, position.ID(), velocity.ID())
	spawn(3, position.ID(), tag)
	spawn(3, position.ID(), velocity.ID(), tag)

	count := func(terms ...loom.Term) int {
		q, err := world.Query(loom.QueryDesc{Terms: terms})
		if err != nil {
			panic(err)
		}
		return q.Count()
	}
	fmt.Printf("AND query matched %d entities\n", count(
		loom.Term{ID: position.ID()},
		loom.Term{ID: velocity.ID()},
	))
	fmt.Printf("OR query matched %d entities\n", count(
		loom.Term{ID: velocity.ID(), Oper: loom.OperOr},
		loom.Term{ID: tag, Oper: loom.OperOr},
	))
	fmt.Printf("NOT query matched %d entities\n", count(
		loom.Term{ID: position.ID()},
		loom.Term{ID: velocity.ID(), Oper: loom.OperNot},
	))

	// Output:
	// AND query matched 6 entities
	// OR query matched 9 entities
	// NOT query matched 6 entities
}

// Example_hierarchy shows relationships, names and traversal
func Example_hierarchy() {
	world, _ := loom.NewWorld(loom.WithLogger(zap.NewNop()))
	defer world.Fini()

	position, _ := loom.FactoryNewComponent[Position](world)

	ship := world.New()
	world.SetName(ship, "ship")
	position.Set(world, ship, Position{X: 5})
	for _, name := range []string{"engine", "cockpit"} {
		part := world.New()
		world.Add(part, loom.Pair(loom.ChildOf, ship))
		world.SetName(part, name)
	}

	cockpit := world.Lookup("ship.cockpit")
	fmt.Println(world.Path(cockpit))

	// parts read the position of the ship they belong to
	q, _ := world.Query(loom.QueryDesc{Terms: []loom.Term{
		{ID: position.ID(), Up: true, InOut: loom.In},
	}})
	for it := range q.Batches() {
		pos := loom.Field[Position](it, 0)[0]
		for _, e := range it.Entities() {
			fmt.Printf("%s at %.1f\n", world.Name(e), pos.X)
		}
	}

	world.Delete(ship)
	fmt.Println(world.IsAlive(cockpit))

	// Output:
	// ship.cockpit
	// engine at 5.0
	// cockpit at 5.0
	// false
}
