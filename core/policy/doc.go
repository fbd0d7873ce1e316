// Package policy orders candidate operations according to a dispatch rule.
//
// Every rule is a Sequencer resolved through For. Orderings are stable and
// fully deterministic: ties always fall back to identifiers. After the rule
// sort, the operations of one work order are re-laid in sequence order
// within the positions the rule gave that work order, so a successor never
// precedes its predecessor.
package policy
