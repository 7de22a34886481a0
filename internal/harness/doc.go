// Package harness runs conformance scenarios against the sync coordinator.
//
// A scenario seeds the offline queue, scripts how each delivery attempt
// ends, walks a list of steps (drains, connectivity changes, late
// enqueues) and then checks assertions against the resulting trace and
// queue state.
//
// # Scenario Format
//
//	name: persistent_failure_escalates
//	description: "Two writes that never succeed are escalated once each"
//	max_attempts: 3
//	queue:
//	  - id: "1"
//	    url: https://api.test/stocks
//	    method: POST
//	    body: {"name": "Echeveria"}
//	delivery:
//	  "1": [fail, ok]
//	always_fail: ["2"]
//	prompts:
//	  "2": discard
//	steps:
//	  - drain: true
//	assertions:
//	  - type: pending
//	    ids: []
//	  - type: attempts
//	    op: "1"
//	    count: 2
//
// # Delivery Outcomes
//
//   - ok: the attempt succeeds
//   - fail: the attempt fails with a transient network error
//   - reject: the attempt fails with a server rejection
//   - disconnect: the attempt succeeds, then connectivity drops
//   - fail_disconnect: the attempt fails, then connectivity drops
//
// Attempts past the end of a script succeed unless the operation is listed
// under always_fail.
//
// # Determinism
//
// Every run uses an in-memory store, a fixed clock and scripted
// collaborators, so the trace of a scenario is identical across runs and
// can be compared byte for byte against a golden file.
package harness
