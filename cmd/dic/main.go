// Command dic runs the demo application and manages its compiled container.
//
//	dic cache:warmup
//	dic debug:container mailer
//	dic serve
package main

import (
	"os"

	"github.com/km-arc/go-container/app"
	kernel "github.com/km-arc/go-container/framework/app"
	"github.com/km-arc/go-container/framework/config"
	"github.com/km-arc/go-container/framework/console"
)

func main() {
	os.Exit(console.Execute("dic", func() (*kernel.Kernel, error) {
		cfg := config.Load()
		return kernel.New(cfg, kernel.WithProviders(&app.AppServiceProvider{}))
	}))
}
