// Package compflow turns a captured piece of web UI into generated
// component code through a resilient, cached pipeline.
//
// A flow moves through a fixed set of states:
//
//	idle → selecting → extracting → detecting → cleaning → hashing →
//	checking_cache → (cache_hit → completed)
//	              → generating_prompt → calling_remote ⇄ retrying
//	                                   calling_remote ⇄ fallback
//	              → processing_response → storing → completed
//
// Any non-terminal state may end in failed or cancelled. Local stages are
// injected as StageFunc collaborators; the remote generation call is a
// remote.Caller. The remote phase retries the primary target with
// exponential backoff, then tries each fallback target exactly once.
// Results are cached under a deterministic key so repeated requests skip
// the remote call entirely.
//
// Basic usage:
//
//	store, _ := cache.NewStore(ctx, cache.NewMemoryBackend())
//	orch, err := compflow.New(caller,
//	    compflow.WithCache(store),
//	    compflow.WithPrimaryTarget("model-a"),
//	    compflow.WithFallbacks("model-b", "model-c"),
//	)
//	report, err := orch.Execute(ctx, input, func(md compflow.StateMetadata) {
//	    fmt.Println(md.State, md.Progress)
//	})
//
// A Flow can be cancelled from another goroutine with Flow.Cancel, or by
// cancelling the context passed to Execute.
package compflow
