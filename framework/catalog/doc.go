// Package catalog holds the constructors and functions a compiled container
// may call, registered under stable names.
//
// Definitions never hold Go values for types: an object definition names its
// class ("app.Mailer") and the catalog maps that name to a constructor. The
// builder uses the catalog to introspect parameter types for autowiring; the
// generated container uses it to construct services after a restart.
//
//	cat := catalog.New()
//	cat.MustRegister("app.Transport", NewTransport)
//	cat.MustRegister("app.Mailer", NewMailer,
//	    catalog.WithParams("transport", "logger"),
//	    catalog.WithOptional(1))
//	cat.MustRegisterFunc("app.Mailer.FromDSN", MailerFromDSN)
package catalog
