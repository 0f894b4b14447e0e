package engine

import (
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// MutableTransaction drains the queues of one mutable: its own leaves and
// the children that have pending work. The universe runs the root instance;
// child instances are opened on demand for every marked child.
//
// Thread-safety model:
//   - a MutableTransaction value is used by exactly one goroutine
//   - siblings in one batch may run on pool goroutines, each on its own
//     State fork; results are merged before the loop continues
type MutableTransaction struct {
	universe *UniverseTransaction
	parent   *MutableTransaction
	mutable  Mutable
}

// batchItem is either a leaf of the mutable or a child mutable.
type batchItem struct {
	leaf  Leaf
	child Mutable
}

// running reports whether m is handled by mt or one of its ancestors.
func (mt *MutableTransaction) running(m Mutable) bool {
	for x := mt; x != nil; x = x.parent {
		if x.mutable == m {
			return true
		}
	}
	return false
}

// Mutable returns the mutable being run.
func (mt *MutableTransaction) Mutable() Mutable { return mt.mutable }

func (mt *MutableTransaction) run(s State) State {
	u := mt.universe
	m := mt.mutable
	for !u.IsKilled() {
		s = move(s, m, PriorityOne, PriorityZero)
		leaves := queuedLeaves(s, m, PriorityZero)
		children := queuedChildren(s, m, PriorityZero)
		if leaves.Len() == 0 && children.Len() == 0 {
			if mt.parent != nil {
				break
			}
			p, ok := lowestDeferred(s, m)
			if !ok {
				break
			}
			s = u.openPass(s, p)
			s = move(s, m, p, PriorityZero)
			continue
		}
		s = s.Set(m, queueActions[PriorityZero], emptyLeaves)
		s = s.Set(m, queueChildren[PriorityZero], emptyMutables)

		items := make([]batchItem, 0, leaves.Len()+children.Len())
		leaves.Range(func(l Leaf) bool {
			items = append(items, batchItem{leaf: l})
			return true
		})
		children.Range(func(c Mutable) bool {
			items = append(items, batchItem{child: c})
			return true
		})
		s = mt.runBatch(s, items)
	}
	if mt.parent != nil {
		for p := PriorityTwo; int(p) < numPriorities; p++ {
			if hasQueued(s, m, p) {
				s = markChildren(s, m, p, mt.parent)
			}
		}
	}
	return s
}

func lowestDeferred(s State, m Mutable) (Priority, bool) {
	for p := PriorityTwo; int(p) < numPriorities; p++ {
		if hasQueued(s, m, p) {
			return p, true
		}
	}
	return PriorityZero, false
}

func (mt *MutableTransaction) runBatch(s State, items []batchItem) State {
	u := mt.universe
	parallel := !u.limits.RunSequential && len(items) > 2
	if u.limits.TraceMutable {
		u.log.Debug("mutable batch",
			"mutable", objectName(mt.mutable),
			"items", len(items),
			"parallel", parallel,
		)
	}
	if !parallel {
		return mt.runSequential(s, items)
	}

	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	_, span := u.tracer.Start(u.ctx, "dclare.merge", trace.WithAttributes(
		attribute.String("mutable", objectName(mt.mutable)),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	merged, err := mt.runParallel(s, items)
	if err != nil {
		u.metrics.MergeConflict()
		u.log.Debug("merge failed, rerunning sequentially",
			"mutable", objectName(mt.mutable),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge conflict")
		return mt.runSequential(s, items)
	}
	return merged
}

func (mt *MutableTransaction) runSequential(s State, items []batchItem) State {
	for _, it := range items {
		if mt.universe.IsKilled() {
			break
		}
		s = mt.runItem(s, it)
	}
	return s
}

func (mt *MutableTransaction) runItem(s State, it batchItem) State {
	if it.leaf != nil {
		return it.leaf.run(mt, mt.mutable, s)
	}
	if Parent(s, it.child) != mt.mutable {
		return s
	}
	child := &MutableTransaction{universe: mt.universe, parent: mt, mutable: it.child}
	return child.run(s)
}

// runParallel splits items in two halves that run from the same base state.
// The second half goes to the worker pool when a slot is free and runs inline
// otherwise.
func (mt *MutableTransaction) runParallel(s State, items []batchItem) (State, error) {
	if len(items) <= 2 {
		return mt.runSequential(s, items), nil
	}
	u := mt.universe
	half := len(items) / 2

	var g errgroup.Group
	var right State
	if u.pool.TryAcquire(1) {
		g.Go(func() error {
			defer u.pool.Release(1)
			defer func() {
				if r := recover(); r != nil {
					u.handleException(recovered(r))
				}
			}()
			var err error
			right, err = mt.runParallel(s, items[half:])
			return err
		})
	} else {
		var err error
		if right, err = mt.runParallel(s, items[half:]); err != nil {
			return s, err
		}
	}
	left, leftErr := mt.runParallel(s, items[:half])
	if err := g.Wait(); err != nil {
		return s, err
	}
	if leftErr != nil {
		return s, leftErr
	}
	return mt.merge(s, []State{left, right})
}

// merge combines branch states and re-triggers observers whose new
// dependency was written by another branch.
func (mt *MutableTransaction) merge(base State, branches []State) (State, error) {
	u := mt.universe
	merged, slots, err := mergeStates(base, branches, u.conflicts)
	u.metrics.Merge(len(branches))
	if err != nil {
		return base, err
	}

	writers := map[slotKey][]int{}
	for _, sl := range slots {
		if sl.property.kind == KindObserved {
			writers[slotKey{sl.object, sl.property}] = sl.branches
		}
	}
	for _, sl := range slots {
		if sl.property.indexOf == nil {
			continue
		}
		byBranch := writers[slotKey{sl.object, sl.property.indexOf}]
		if len(byBranch) == 0 {
			continue
		}
		baseRefs := cast[observerRefs](base.Get(sl.object, sl.property))
		for i, b := range sl.branches {
			if !writtenElsewhere(byBranch, b) {
				continue
			}
			pmap.DiffSets(baseRefs, cast[observerRefs](sl.values[i]), func(r observerRef) {
				merged = triggerIn(merged, r.mutable, r.observer, PriorityOne, mt)
			}, func(observerRef) {})
		}
	}
	return merged, nil
}

func writtenElsewhere(writers []int, branch int) bool {
	for _, w := range writers {
		if w != branch {
			return true
		}
	}
	return false
}
