// Package shutdown coordinates phased graceful shutdown.
//
// # Overview
//
// A daemon stops in a fixed order: the HTTP listener drains first so
// no new submissions arrive, then the engine stops its workers, then
// the storage backends close. Each component registers a handler in
// one of those phases; phases run in ascending order and handlers
// within a phase run concurrently. One context bounds the whole
// sequence, so a hung component cannot stall the process forever.
//
// # Usage
//
//	coord := shutdown.New(shutdown.Config{Timeout: 30 * time.Second})
//	coord.RegisterFuncPhase("http", srv.Shutdown, shutdown.PhaseServer)
//	coord.RegisterFuncPhase("engine", eng.Stop, shutdown.PhaseEngine)
//	coord.RegisterFuncPhase("store", func(context.Context) error {
//		return store.Close()
//	}, shutdown.PhaseBackends)
//	coord.HandleSignals()
//	<-coord.Done()
//
// Shutdown runs once. Later calls, including a second signal, block
// until the first run finishes and report its outcome.
package shutdown
