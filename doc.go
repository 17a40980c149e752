/*
Package journey turns workflow graphs into conversational journeys and drives them
through chat sessions.

A workflow graph (action, condition, human-input and terminal nodes joined by
optionally guarded edges) is mapped once into a Journey Definition: a state machine
with a conversational state per node and a transition per edge. Every chat session
runs its own Execution State against that shared, read-only definition.

# Concept

Two kinds of input move a session forward, strictly in the order they arrive:

  - Step notifications from the external execution engine (step_started,
    step_completed, step_failed), applied with HandleEvent.
  - User utterances, applied with HandleMessage. The intent resolver decides whether
    the text is a control command (pause, resume, retry, skip, stop), a question
    (status, explain, debug, export, help) or a reply to the current prompt.

Nodes whose policy requires confirmation wait for a yes/no reply in the chat. Nodes
that require human approval open an intervention request; the session stays in
awaiting-input until RespondIntervention is called or the request expires.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/journey"
		"github.com/aretw0/journey/pkg/adapters/file"
		"github.com/aretw0/journey/pkg/domain"
	)

	func main() {
		eng, err := journey.New(file.NewLoader("./workflows"),
			journey.WithStore(file.New(".journey/sessions")),
		)
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		reply, err := eng.StartSession(ctx, "session-123", "refund", nil)
		if err != nil {
			log.Fatal(err)
		}
		log.Println(reply.PromptText)

		// The execution engine reports a finished step.
		reply, err = eng.HandleEvent(ctx, "session-123", domain.EngineEvent{
			Type:   domain.EventStepCompleted,
			NodeID: "collect",
		})
		if err != nil {
			log.Fatal(err)
		}

		// The user talks to the session.
		reply, err = eng.HandleMessage(ctx, "session-123", "please pause this", nil)
		if err != nil {
			log.Fatal(err)
		}
		log.Println(reply.Status, reply.AvailableActions)
	}
*/
package journey
