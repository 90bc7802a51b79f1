package btree

/*

# Copy-on-write B-tree over checksummed metadata blocks

This package is the mapping structure at the heart of the metadata store: a
persistent B-tree from composite uint64 keys to codec-packed values, built
from fixed-size node blocks and mutated only through transactional
shadowing.

## Core invariants

1. keys within a node are strictly ascending, and a node's key range is
   disjoint from and adjacent to its siblings'
2. every node on a mutation path is shadowed before it is written, so
   blocks shared with a committed snapshot are never modified in place
3. traversal reads always go back to the block store and re-validate, so a
   walk observes exactly what the medium holds

## Surviving damage

Production metadata devices lose blocks. The depth-first walk therefore
routes every node failure (unreadable medium, bad checksum, structural
violation) through the visitor's ErrorAccessingNode hook rather than
aborting. DamageVisitor uses that hook to turn each lost node into a single
Damage record carrying the key range the node would have covered: the lower
bound is the separator key its parent held, the upper bound is discovered
retroactively when the next node at the same depth comes by. Everything
still reachable is delivered to the value observer in ascending key order.

dm-thin and friends layer their dump, check and repair tools on exactly
these two extension points (Visitor and DamageVisitor); nothing in this
package formats reports or decides repair policy.

*/
