package container

import "fmt"

// Accessor builds (or returns the memo of) one compiled service.
type Accessor func(s *Session) (any, error)

// Program is what a generated container hands to the runtime: the lookup
// tables and the accessor dispatch. Generated code exposes each field as a
// top-level symbol; the loader assembles them into a Program.
type Program struct {
	Class     string
	Signature string
	Split     bool

	// MethodMap maps every public service id to its accessor name.
	MethodMap map[string]string
	// Aliases maps public aliases to the service they stand for.
	Aliases map[string]string
	// Parameters is the resolved parameter bag.
	Parameters map[string]any
	// Removed maps ids that exist at build time but are not reachable at
	// run time to the reason they were dropped.
	Removed map[string]string
	// Synthetic lists ids whose value is injected with Container.Set.
	Synthetic []string
	// Preload lists catalog classes whose method sets are warmed when the
	// program is loaded.
	Preload []string

	// Resolve dispatches an accessor name to its generated function.
	Resolve func(s *Session, method string) (any, error)
}

// Validate checks that p carries everything the runtime needs.
func (p *Program) Validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("container: nil program")
	case p.Class == "":
		return fmt.Errorf("container: program has no class")
	case p.Resolve == nil:
		return fmt.Errorf("container: program %s has no resolver", p.Class)
	}
	for id, method := range p.MethodMap {
		if method == "" {
			return fmt.Errorf("container: program %s: service %q has no accessor", p.Class, id)
		}
	}
	for alias, target := range p.Aliases {
		if _, ok := p.MethodMap[target]; !ok && !p.isSynthetic(target) {
			return fmt.Errorf("container: program %s: alias %q points at unknown service %q", p.Class, alias, target)
		}
	}
	return nil
}

func (p *Program) isSynthetic(id string) bool {
	for _, s := range p.Synthetic {
		if s == id {
			return true
		}
	}
	return false
}
