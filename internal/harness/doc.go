// Package harness runs scripted agent conversations against a dispatcher.
//
// A scenario feeds agent turns to a fresh dispatcher and checks what each
// span produced, then validates the whole run with assertions.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	declarations:
//	  - modules/weather.yaml
//	mocks:
//	  - module: Weather
//	    command: Forecast
//	    response: { summary: sunny }
//	turns:
//	  - text: |
//	      Checking the sky.
//	      [[command]]
//	      module: Weather
//	      command: Forecast
//	      city: Oslo
//	      [[/command]]
//	    expect:
//	      - response: { summary: sunny }
//	assertions:
//	  - type: trace_count
//	    action: Weather.Forecast
//	    count: 1
//
// The reference modules (IO, Subtask, Knowledge, Manual) are registered
// unless builtin_modules is false. Declared modules without a reference
// handler need mocks.
//
// # Assertion Types
//
//   - trace_contains: an action appears with the given kind and a matching response
//   - trace_order: actions first appear in the given order
//   - trace_count: an action appears exactly N times
//   - outbox_contains: the IO module delivered the given text
//   - knowledge_entry: the knowledge base holds (or lacks) a key
//
// # Deterministic Testing
//
// Turn tokens are fixed ("test-turn-1", "test-turn-2", ... unless
// turn_token is set), subtask ids count up from "subtask-1", and the
// knowledge base is an in-memory SQLite database. The feedback transcript
// is therefore identical across runs and can be compared with a golden
// file via RunWithGolden.
package harness
