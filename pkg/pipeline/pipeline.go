package pipeline

import "fmt"

// Pipeline is the set of registered stages and their prerequisite graph.
type Pipeline struct {
	Name        string
	Description string
	// Default is the target used when a caller names none.
	Default string

	stages map[string]*Stage
	order  []string
}

// New creates an empty pipeline.
func New(name string) *Pipeline {
	return &Pipeline{Name: name, stages: make(map[string]*Stage)}
}

// NewWithStages creates a pipeline, registers stages in order and validates
// the result.
func NewWithStages(name string, stages ...*Stage) (*Pipeline, error) {
	p := New(name)
	for _, s := range stages {
		if err := p.Register(s); err != nil {
			return nil, err
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Register adds a stage. Prerequisites may name stages registered later, but
// a registration that closes a cycle among known stages fails immediately
// with CyclicStageError.
func (p *Pipeline) Register(s *Stage) error {
	if s == nil {
		return fmt.Errorf("stage is nil")
	}
	if s.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if _, ok := p.stages[s.Name]; ok {
		return fmt.Errorf("duplicate stage name: %s", s.Name)
	}
	for _, req := range s.Prerequisites {
		if req == "" {
			return fmt.Errorf("stage %s has empty prerequisite name", s.Name)
		}
	}

	p.stages[s.Name] = s
	p.order = append(p.order, s.Name)

	if path := p.cycleThrough(s.Name); path != nil {
		delete(p.stages, s.Name)
		p.order = p.order[:len(p.order)-1]
		return &CyclicStageError{Path: path}
	}
	return nil
}

// Stage returns the stage registered under name.
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	s, ok := p.stages[name]
	return s, ok
}

// Stages returns all stages in registration order.
func (p *Pipeline) Stages() []*Stage {
	out := make([]*Stage, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.stages[name])
	}
	return out
}

// Len returns the number of registered stages.
func (p *Pipeline) Len() int {
	return len(p.order)
}

// Validate checks that every prerequisite is registered and that the
// prerequisite graph is acyclic.
func (p *Pipeline) Validate() error {
	if len(p.order) == 0 {
		return fmt.Errorf("pipeline must define at least one stage")
	}
	for _, name := range p.order {
		for _, req := range p.stages[name].Prerequisites {
			if _, ok := p.stages[req]; !ok {
				return &UnknownStageError{Name: req, Referrer: name}
			}
		}
	}
	if p.Default != "" {
		if _, ok := p.stages[p.Default]; !ok {
			return &UnknownStageError{Name: p.Default}
		}
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(p.order))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		path = append(path, name)
		for _, req := range p.stages[name].Prerequisites {
			switch color[req] {
			case gray:
				return &CyclicStageError{Path: cyclePath(path, req)}
			case white:
				if err := visit(req); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for _, name := range p.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve returns the execution order for targets: every stage appears after
// all of its prerequisites and at most once. Prerequisites are visited
// depth-first in declared order and targets in the order given. Every target
// is checked before any resolution happens.
func (p *Pipeline) Resolve(targets []string) ([]*Stage, error) {
	for _, target := range targets {
		if _, ok := p.stages[target]; !ok {
			return nil, &UnknownStageError{Name: target}
		}
	}

	done := make(map[string]bool)
	active := make(map[string]bool)
	var path []string
	var order []*Stage

	var visit func(name, referrer string) error
	visit = func(name, referrer string) error {
		if done[name] {
			return nil
		}
		if active[name] {
			return &CyclicStageError{Path: cyclePath(path, name)}
		}
		s, ok := p.stages[name]
		if !ok {
			return &UnknownStageError{Name: name, Referrer: referrer}
		}

		active[name] = true
		path = append(path, name)
		for _, req := range s.Prerequisites {
			if err := visit(req, name); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		active[name] = false

		done[name] = true
		order = append(order, s)
		return nil
	}

	for _, target := range targets {
		if err := visit(target, ""); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// cycleThrough looks for a prerequisite path from start back to itself using
// only registered stages.
func (p *Pipeline) cycleThrough(start string) []string {
	visited := make(map[string]bool)
	path := []string{start}

	var walk func(name string) []string
	walk = func(name string) []string {
		s, ok := p.stages[name]
		if !ok {
			return nil
		}
		for _, req := range s.Prerequisites {
			if req == start {
				return append(append([]string{}, path...), start)
			}
			if visited[req] {
				continue
			}
			visited[req] = true
			path = append(path, req)
			if found := walk(req); found != nil {
				return found
			}
			path = path[:len(path)-1]
		}
		return nil
	}
	return walk(start)
}

func cyclePath(path []string, repeat string) []string {
	start := 0
	for i, name := range path {
		if name == repeat {
			start = i
			break
		}
	}
	out := append([]string{}, path[start:]...)
	return append(out, repeat)
}
