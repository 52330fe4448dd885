// Package policy provides scheduling policies that answer whether an
// operation should be memoized.
//
// Policies are plain memo.Policy values. Static, TracedOnly and Func cover
// programmatic use; Rule values are compiled from CUE so a scenario can ship
// its own policy file:
//
//	policy: {
//		always: traced: true
//		tasks: {
//			traced: true
//			kinds: ["task", "index_task"]
//		}
//	}
//
// A Registry maps policy ids to policies and implements memo.PolicyResolver.
package policy
