// Package domain holds the core entities of the Tiller decision engine:
// session events, guidelines, journeys, relationships, tools, context
// variables, and composition artifacts.
//
// Everything here is plain data. Behavior lives in internal/engine; I/O
// lives behind pkg/ports.
package domain
