/*
Package session implements per-session serialization and persistence orchestration.

The Manager holds a ref-counted mutex per session, optionally backed by a distributed
lock so replicas never apply transitions to the same session at once. The Queue puts
one inbound channel in front of each session: engine events, chat messages, human
responses and expiry sweeps all pass through it and are applied strictly in the order
they were accepted.
*/
package session
