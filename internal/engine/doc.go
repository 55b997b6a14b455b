// Package engine implements the turn-processing core: guideline and journey
// matching, journey step tracking with backtracking, relationship
// resolution, tool-call planning with argument inference, response
// composition, and the bounded iterate-match-call-recheck orchestration
// loop.
//
// The engine is deterministic given the verdicts of the external evaluation
// and generation backends; every test in this package drives it with
// scripted oracles.
package engine
