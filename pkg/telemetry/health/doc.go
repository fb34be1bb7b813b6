// Package health runs liveness and readiness checks for the keygate service.
//
// Components register a CheckFunc under a name. Readiness runs every check
// concurrently, each bounded by the checker timeout, and reports "degraded"
// when any of them fails:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("vault", func(ctx context.Context) error {
//	    _, err := store.Get(ctx, "health-probe")
//	    if errors.Is(err, vault.ErrNotFound) {
//	        return nil
//	    }
//	    return err
//	})
//	status := checker.CheckReadiness(ctx)
package health
