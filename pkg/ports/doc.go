// Package ports defines the interfaces between the Tiller engine and its
// external collaborators: the natural-language evaluation and generation
// backend, tool execution services, and persistence.
//
// The engine treats the evaluation and generation backends as opaque,
// potentially slow, potentially wrong oracles. Everything it decides is a
// function of their structured verdicts plus the session's event log.
package ports
