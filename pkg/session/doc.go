/*
Package session implements session access orchestration.

It serializes turn processing per session across goroutines and, optionally,
across replicas via a distributed locker, on top of the event log and journey
state storage adapters.
*/
package session
