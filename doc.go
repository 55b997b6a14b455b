/*
Package tiller is a turn-processing engine for guideline-steered conversational agents.

It decides, for every customer message, which operator-authored guidelines apply,
where each multi-step journey stands, which tool calls to make with which arguments,
and how to compose the reply, while delegating all natural-language judgment to
pluggable external backends. The engine itself is deterministic: given the same
session log and the same backend verdicts, it makes the same decisions.

# Concept

Operators describe behavior declaratively in a pack: condition/action guidelines,
multi-step journeys, relationships between them, tool schemas, and response
templates. The engine evaluates conditions against the conversation via an
Evaluator port, resolves tool arguments from what the customer actually said,
executes tools through a ToolInvoker port, and produces the reply through a
Generator port. Every event of a session lives in an append-only log.

# Key Features

  - Deterministic Control Flow: the engine branches only on backend verdicts, never on text.
  - Hexagonal Architecture: evaluation, generation, invocation, and storage are ports.
  - Append-Only Sessions: messages, tool calls, and statuses share one ordered log.
  - Safe Tool Use: arguments are resolved, validated, and deduplicated before any call.

# Usage

Load a pack, plug in the three backends, and send messages.

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/tiller"
		"github.com/aretw0/tiller/pkg/pack"
		"github.com/aretw0/tiller/pkg/registry"
	)

	func main() {
		p, err := pack.Load("./support-agent.yaml")
		if err != nil {
			log.Fatal(err)
		}

		tools := registry.NewRegistry()
		// tools.Register("accounts:send_reset_link", ...)

		eng, err := tiller.New(p, evaluator, generator, tools)
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		if err := eng.Send(ctx, "session-123", "I forgot my password", tiller.TurnOptions{}); err != nil {
			log.Fatal(err)
		}

		events, _ := eng.Events(ctx, "session-123", 0)
		for _, ev := range events {
			log.Println(ev.Kind, ev.Data)
		}
	}
*/
package tiller
