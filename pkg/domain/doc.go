/*
Package domain contains the core models of the journey engine.

It defines the workflow Graph Model, the derived Journey Definition, the per-session
Execution State and the Intervention records, together with the errors, events and
updates exchanged with adapters. This package is kept pure and free of I/O, following
Hexagonal Architecture principles.

# Key Entities

  - Graph: typed nodes and directed edges of a workflow, with an inferred entry node.
  - JourneyDefinition: the conversational state machine derived from a Graph.
  - ExecutionState: the live progress of one session through a journey.
  - Intervention: a suspension point waiting for a human response.
  - StateDiff: the partial update streamed to clients after each transition.
*/
package domain
