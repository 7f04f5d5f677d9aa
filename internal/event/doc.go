/*
Package event provides the pub/sub event bus used by the agent pool.

Publishers emit lifecycle, turn, tool and confirmation events; subscribers
react to them without a direct dependency on the publisher.

# Architecture

In-process subscribers are invoked directly so the Go type of Event.Data is
preserved. Every published event is also JSON-encoded onto a watermill
GoChannel topic (StreamTopic). Streaming consumers such as the HTTP
/events endpoint read that topic through Bus.Stream.

# Event Types

Agent events:
  - agent.created, agent.restored, agent.destroyed

Turn events:
  - turn.started, turn.completed, turn.cancelled, turn.failed

Tool events:
  - tool.denied: a call was refused by the permission enforcer
  - tool.executed: a call ran to completion (success or tool error)

Confirmation events:
  - confirmation.requested, confirmation.resolved

Other:
  - message.delivered: one agent queued a message for another
  - vcs.changed: the branch of a tracked repository changed

# Usage

	unsub := bus.Subscribe(event.AgentCreated, func(e event.Event) {
		data := e.Data.(event.AgentData)
		log.Info().Str("agent", e.AgentID).Str("preset", data.Preset).Msg("created")
	})
	defer unsub()

	bus.Publish(event.Event{Type: event.AgentCreated, AgentID: id, Data: event.AgentData{Preset: "sandboxed"}})

Publish delivers asynchronously, one goroutine per subscriber. PublishSync
delivers in the caller's goroutine and is mostly useful in tests.
*/
package event
