// Profiling:
// go build ./profile/query
// go tool pprof -http=":8000" -nodefraction=0.001 ./query cpu.pprof

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/TheBitDrifter/loom"
	"github.com/pkg/profile"
)

type position struct {
	X, Y float64
}

type velocity struct {
	X, Y float64
}

type health struct {
	Current, Max int32
}

func main() {
	mode := flag.String("mode", "cpu", "cpu or mem")
	rounds := flag.Int("rounds", 20, "worlds to build")
	iters := flag.Int("iters", 1000, "query passes per world")
	entities := flag.Int("entities", 10000, "entities per world")
	flag.Parse()

	opt := profile.CPUProfile
	if *mode == "mem" {
		opt = profile.MemProfileAllocs
	}
	p := profile.Start(opt, profile.ProfilePath("."), profile.NoShutdownHook)
	err := run(*rounds, *iters, *entities)
	p.Stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(rounds, iters, numEntities int) error {
	for range rounds {
		w, err := loom.Factory.NewWorld()
		if err != nil {
			return err
		}
		pos, err := loom.FactoryNewComponent[position](w)
		if err != nil {
			return err
		}
		vel, err := loom.FactoryNewComponent[velocity](w)
		if err != nil {
			return err
		}
		hp, err := loom.FactoryNewComponent[health](w)
		if err != nil {
			return err
		}
		parent := w.New()
		if err := hp.Set(w, parent, health{Current: 10, Max: 10}); err != nil {
			return err
		}
		for i := range numEntities {
			e := w.New()
			if err := pos.Set(w, e, position{}); err != nil {
				return err
			}
			if err := vel.Set(w, e, velocity{X: 1, Y: 1}); err != nil {
				return err
			}
			if i%2 == 0 {
				if err := w.Add(e, loom.Pair(loom.ChildOf, parent)); err != nil {
					return err
				}
			}
		}

		move, err := loom.Factory.NewQuery(w, loom.QueryDesc{Terms: []loom.Term{
			{ID: pos.ID()}, {ID: vel.ID(), InOut: loom.In},
		}})
		if err != nil {
			return err
		}
		inherited, err := loom.Factory.NewQuery(w, loom.QueryDesc{Terms: []loom.Term{
			{ID: pos.ID()}, {ID: hp.ID(), Up: true, InOut: loom.In},
		}})
		if err != nil {
			return err
		}
		for range iters {
			it := move.Iter()
			for it.Next() {
				p, v := pos.Field(it, 0), vel.Field(it, 1)
				for i := range p {
					p[i].X += v[i].X
					p[i].Y += v[i].Y
				}
			}
			it = inherited.Iter()
			for it.Next() {
				_ = hp.FieldAt(it, 1, 0)
			}
		}
		if err := w.Fini(); err != nil {
			return err
		}
	}
	return nil
}
