package app

import (
	"encoding/json"
	"net/http"

	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/routing"
)

// AppServiceProvider registers the demo types and adds the newsletter
// route to the framework router. The services themselves are defined in
// config/services.
type AppServiceProvider struct {
	container.BaseProvider
}

func (p *AppServiceProvider) Catalog(cat *catalog.Catalog) error {
	registrations := []struct {
		name   string
		ctor   any
		params []string
	}{
		{"app.Transport", NewTransport, []string{"dsn"}},
		{"app.Mailer", NewMailer, []string{"transport", "from"}},
		{"app.MailNotifier", NewMailNotifier, []string{"mailer", "to"}},
		{"app.LogNotifier", NewLogNotifier, nil},
		{"app.Newsletter", NewNewsletter, []string{"notifiers"}},
	}
	for _, r := range registrations {
		if err := cat.Register(r.name, r.ctor, catalog.WithParams(r.params...)); err != nil {
			return err
		}
	}
	return nil
}

func (p *AppServiceProvider) Extensions() map[string]container.Extension {
	return map[string]container.Extension{
		"router": func(c container.Lookup, prev any) (any, error) {
			r, ok := prev.(*routing.Router)
			if !ok {
				return prev, nil
			}
			newsletter, err := container.Resolve[*Newsletter](c, "newsletter")
			if err != nil {
				return nil, err
			}
			r.Post("/newsletter", publishHandler(newsletter))
			return r, nil
		},
	}
}

func publishHandler(n *Newsletter) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		subject := req.URL.Query().Get("subject")
		if subject == "" {
			http.Error(w, "subject is required", http.StatusUnprocessableEntity)
			return
		}
		reached, err := n.Publish(subject)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"subject": subject, "reached": reached}})
	}
}
