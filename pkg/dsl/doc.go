/*
Package dsl provides a fluent builder for constructing workflow graphs in Go.

It is an alternative to YAML files or Loam documents, useful for tests, embedded hosts and
graphs generated at runtime.

Example usage:

	b := dsl.New("refund")

	b.Action("collect").
		Prompt("Collecting order {{order_id}}").
		Go("approve")

	b.Human("approve").
		Prompt("Approve a refund of {{amount}}?").
		Go("pay")

	b.Action("pay").
		MaxRetries(1).
		Go("done")

	b.Terminal("done")

	graph, err := b.Build()
*/
package dsl
