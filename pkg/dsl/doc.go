/*
Package dsl provides a Go DSL (Domain Specific Language) for programmatically constructing behavior packs.

It allows developers to define guidelines, journeys, and tools using a type-safe, fluent builder pattern
instead of relying on external YAML files. This is particularly useful for dynamic pack
generation, unit testing, and leveraging IDE autocompletion/type-checking.

Example usage:

	package main

	import (
		"github.com/aretw0/tiller/pkg/dsl"
	)

	func main() {
		b := dsl.New("support-agent").Agent("Astra")

		b.Guideline("greet").
			When("the customer greets the agent").
			Then("greet them back and ask how you can help")

		b.Journey("reset-password", "Reset Password").
			Entry("the customer wants to reset their password").
			Step("ask for the username").
			Step("send the reset link").Tools("accounts:send_reset_link")

		b.Tool("accounts", "send_reset_link").
			Param("username", "string").Required()

		// The resulting pack is validated and ready for the engine.
		p, err := b.Build()
		// ... pass p to tiller.New(...)
		_ = p
		_ = err
	}
*/
package dsl
