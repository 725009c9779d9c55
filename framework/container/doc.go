// Package container is the runtime half of the dependency-injection
// container: it runs the Program a generated container provides.
//
// # Lookup
//
// Everything outside the container depends on the Lookup contract only:
//
//	mailer, err := c.Get("mailer")
//	ok := c.Has("mailer")
//	dsn, err := c.Parameter("mailer.dsn")
//
//	// typed
//	m, err := container.Resolve[*app.Mailer](c, "mailer")
//
// Get distinguishes ids it never knew (NotFoundError) from ids that existed
// at build time but were dropped or kept private (RemovedServiceError).
//
// # Sessions
//
// Generated accessors receive a *Session. The session memoizes shared
// services, detects re-entrant construction and forwards every call into the
// catalog:
//
//	func svc6b3c1f80a2e4d917(s *container.Session) (any, error) {
//	    if v, ok, err := s.Claim("mailer"); err != nil || ok {
//	        return v, err
//	    }
//	    ...
//	}
//
// # Lazy services and tagged collections
//
// A lazy dependency is injected as *Deferred and built on first Get. An
// injected tag collection is a *Sequence: countable without building
// anything, and re-iterable without rebuilding anything.
//
//	handlers, err := container.Collect[Handler](seq)
//
// # Providers
//
// A ServiceProvider contributes factories and extensions. The builder folds
// them into definitions, so a provider never runs at request time unless the
// service it defines is used.
package container
