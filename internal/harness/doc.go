// Package harness runs scenario files against a real universe.
//
// A scenario declares a small model, the objects of one containment tree
// and the host steps to run, each as one universe transaction. The harness
// records every step's non-plumbing changes, checks expectations and
// renders the final state canonically, so runs can be compared against
// golden snapshots.
//
// # Scenario Format
//
//	name: order_total
//	description: "The order total follows its lines"
//	config:
//	  max_nr_of_changes: 50
//	properties:
//	  - {name: lines, type: set, containment: true}
//	  - {name: amount, type: int}
//	  - {name: total, type: int}
//	classes:
//	  - name: Order
//	    properties: [lines, total]
//	    rules:
//	      - {name: total, kind: sum, over: lines, from: amount, to: total}
//	  - name: Line
//	    properties: [amount]
//	objects:
//	  - {name: order, class: Order}
//	  - {name: l1, class: Line, parent: order, via: lines, values: {amount: 3}}
//	steps:
//	  - name: raise l1
//	    set: [{object: l1, property: amount, value: 5}]
//	    expect:
//	      state: {order: {total: 5}}
//
// Properties are typed int, string, bool, set (of objects) or ref (one
// object) and are observed unless kind says plain or constant. Rules are
// one of copy, sum, count, increment or floor. A step either writes (set,
// add, remove) or travels backward or forward in history.
//
// # Deterministic Output
//
// Object names stand in for identities, changes are sorted by object and
// property, and the final state is rendered as canonical JSON. Parallel
// branch scheduling does not show in the snapshot.
package harness
