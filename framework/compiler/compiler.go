// Package compiler holds the default pass pipeline that turns a builder's
// definitions into a validated, optimized graph ready to dump.
//
//	b := compiler.NewBuilder(cat)
//	b.Register("mailer", definition.NewObject("app.Mailer"))
//	if err := b.Compile(); err != nil { ... }
package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
)

type step struct {
	pass     builder.Pass
	phase    builder.Phase
	priority int
}

// defaults lists the default passes with their phase and priority.
func defaults() []step {
	return []step{
		{Extensions(), builder.BeforeOptimization, 1000},

		{ResolveParameterPlaceholders(), builder.Optimization, 100},
		{ResolveAliases(), builder.Optimization, 90},
		{CheckDefinitions(), builder.Optimization, 80},
		{Autowire(), builder.Optimization, 70},
		{TagCollection(), builder.Optimization, 60},
		{CheckReferences(), builder.Optimization, 50},
		{CheckCircularReferences(), builder.Optimization, 10},

		{RemovePrivateAliases(), builder.Removing, 100},
		{Inline(), builder.Removing, 50},
		{RemoveUnused(), builder.Removing, 0},

		{ResolveInvalidReferences(), builder.AfterRemoving, 0},
	}
}

// Install registers the default passes on b.
func Install(b *builder.Builder) error {
	for _, s := range defaults() {
		if err := b.AddCompilerPass(s.pass, s.phase, s.priority); err != nil {
			return err
		}
	}
	return nil
}

// NewBuilder returns a builder over cat with the default passes installed.
func NewBuilder(cat *catalog.Catalog, opts ...builder.Option) *builder.Builder {
	b := builder.New(cat, opts...)
	// a fresh builder is never frozen
	_ = Install(b)
	return b
}
