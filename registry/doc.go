// Package registry maps agent types to the handlers that execute them.
//
// # Overview
//
// Every task names an agent type. The engine looks the type up here at
// dispatch time and hands the matching Handler an Invocation: a snapshot
// of the claimed task plus callbacks for progress and cost reporting.
// Handler errors are classified by the retry policy; the registry itself
// never retries.
//
// # Basic Usage
//
// Bind handlers at startup, before the engine begins dispatching:
//
//	reg := registry.New()
//	err := reg.Register("summarizer", registry.HandlerFunc(
//		func(ctx context.Context, inv *registry.Invocation) ([]byte, error) {
//			inv.Progress(50, "summarizing", "half way through")
//			return json.Marshal(map[string]string{"summary": "..."})
//		},
//	))
//
// Submitting a task whose agent type has no handler fails validation at
// the API boundary, so dispatch never hits ErrUnknownType in normal
// operation.
//
// # Reporting from Handlers
//
// Handlers report through the Invocation rather than touching the store
// directly:
//
//	func (h *reportHandler) Execute(ctx context.Context, inv *registry.Invocation) ([]byte, error) {
//	    inv.Progress(10, "loading", "fetching source rows")
//	    rows, err := h.load(ctx, inv.Task.Payload)
//	    if err != nil {
//	        return nil, err
//	    }
//	    inv.AddCost(float64(len(rows)) * 0.001)
//	    inv.Progress(90, "rendering", "writing workbook")
//	    return h.render(rows)
//	}
//
// Progress calls become ordered events on the task's event log; cost
// accumulates onto the task record.
package registry
