package container

// ── ServiceProvider interface ─────────────────────────────────────────────────

// Factory builds one service. Dependencies fetched through the lookup it
// receives are built inside the same resolution.
type Factory func(c Lookup) (any, error)

// Extension decorates the service built by the previous factory or
// extension registered for the same id.
type Extension func(c Lookup, prev any) (any, error)

// ServiceProvider contributes services to a container at build time.
//
// Every factory is folded into a public, shared definition; every extension
// wraps the definition of its id. Both run only when the compiled container
// builds the service, never at registration.
//
//	type MailProvider struct{ container.BaseProvider }
//
//	func (p *MailProvider) Factories() map[string]container.Factory {
//	    return map[string]container.Factory{
//	        "mailer": func(c container.Lookup) (any, error) {
//	            dsn, err := c.Parameter("mailer.dsn")
//	            if err != nil {
//	                return nil, err
//	            }
//	            return mail.New(dsn.(string)), nil
//	        },
//	    }
//	}
type ServiceProvider interface {
	// Factories returns id → factory.
	Factories() map[string]Factory

	// Extensions returns id → decorator.
	Extensions() map[string]Extension
}

// TagProvider is implemented by providers that tag the services they define.
type TagProvider interface {
	// Tags returns tag → ids, in registration order.
	Tags() map[string][]string
}

// PreloadProvider is implemented by providers whose classes should have
// their method sets resolved before the first request.
type PreloadProvider interface {
	ClassesToPreload() []string
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct with no factories and no extensions.
// Embed it in your provider and only override what you need.
//
//	type MyProvider struct{ container.BaseProvider }
//	func (p *MyProvider) Factories() map[string]container.Factory { ... }
type BaseProvider struct{}

func (p *BaseProvider) Factories() map[string]Factory    { return nil }
func (p *BaseProvider) Extensions() map[string]Extension { return nil }
