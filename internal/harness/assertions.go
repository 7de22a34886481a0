package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stocksync/internal/coordinator"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []coordinator.TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] pass=%d %s", i+1, ev.Pass, ev.Kind)
			if ev.OpID != "" {
				fmt.Fprintf(&buf, " op=%s", ev.OpID)
			}
			if ev.Attempt > 0 {
				fmt.Fprintf(&buf, " attempt=%d", ev.Attempt)
			}
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%q", ev.Error)
			}
			if ev.Disposition != "" {
				fmt.Fprintf(&buf, " disposition=%s", ev.Disposition)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func checkAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertPending:
		return assertIDs(r, a, r.Pending)
	case AssertInFlight:
		return assertIDs(r, a, r.InFlight)
	case AssertDelivered:
		return assertIDs(r, a, opIDs(r.TraceOf(coordinator.TraceDelivered)))
	case AssertEscalated:
		return assertIDs(r, a, opIDs(r.TraceOf(coordinator.TraceExhausted)))
	case AssertNotified:
		return assertIDSet(r, a, r.Notified)
	case AssertPrompted:
		return assertIDSet(r, a, r.Prompted)
	case AssertAttempts:
		return assertAttempts(r, a)
	case AssertCallsTo:
		return assertCallsTo(r, a)
	case AssertTraceCount:
		return assertTraceCount(r, a)
	case AssertDisposition:
		return assertDisposition(r, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertIDs compares an ordered ID list. Missing ids in the assertion mean
// the list must be empty.
func assertIDs(r *Result, a Assertion, actual []string) error {
	if slices.Equal(a.IDs, actual) || (len(a.IDs) == 0 && len(actual) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: formatIDs(a.IDs),
		Actual:   formatIDs(actual),
		Trace:    r.Trace,
	}
}

// assertIDSet compares IDs ignoring order. Escalations run concurrently, so
// notify and prompt order is not fixed.
func assertIDSet(r *Result, a Assertion, actual []string) error {
	want := slices.Clone(a.IDs)
	got := slices.Clone(actual)
	slices.Sort(want)
	slices.Sort(got)
	return assertIDs(r, Assertion{Type: a.Type, IDs: want}, got)
}

// assertAttempts counts delivery calls for one operation, or for all
// operations when no op is named.
func assertAttempts(r *Result, a Assertion) error {
	count := 0
	for _, c := range r.Calls {
		if a.Op == "" || c.OpID == a.Op {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	subject := "all operations"
	if a.Op != "" {
		subject = a.Op
	}
	return &AssertionError{
		Type:     AssertAttempts,
		Expected: fmt.Sprintf("%d attempts for %s", a.Count, subject),
		Actual:   fmt.Sprintf("%d attempts", count),
		Trace:    r.Trace,
	}
}

func assertCallsTo(r *Result, a Assertion) error {
	count := 0
	for _, c := range r.Calls {
		if c.Target == a.URL {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallsTo,
		Expected: fmt.Sprintf("%d calls to %s", a.Count, a.URL),
		Actual:   fmt.Sprintf("%d calls", count),
		Trace:    r.Trace,
	}
}

func assertTraceCount(r *Result, a Assertion) error {
	count := 0
	for _, e := range r.Trace {
		if e.Kind == a.Kind && (a.Op == "" || e.OpID == a.Op) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s appears %d times", a.Kind, a.Count),
		Actual:   fmt.Sprintf("appears %d times", count),
		Trace:    r.Trace,
	}
}

// assertDisposition checks the last disposition applied to an operation.
func assertDisposition(r *Result, a Assertion) error {
	actual := ""
	for _, e := range r.TraceOf(coordinator.TraceDisposition) {
		if e.OpID == a.Op {
			actual = e.Disposition
		}
	}
	if actual == a.Value {
		return nil
	}
	if actual == "" {
		actual = "no disposition"
	}
	return &AssertionError{
		Type:     AssertDisposition,
		Expected: fmt.Sprintf("%s for %s", a.Value, a.Op),
		Actual:   actual,
		Trace:    r.Trace,
	}
}

func opIDs(events []coordinator.TraceEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.OpID)
	}
	return ids
}

func formatIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	return "[" + strings.Join(ids, ", ") + "]"
}
