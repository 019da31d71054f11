package config

import (
	"fmt"
	"sort"
)

// TargetAliases maps short names typed on the command line to stage names.
type TargetAliases struct {
	Aliases map[string]string `yaml:"aliases"`
}

// NewTargetAliases builds aliases from defaults overlaid with overrides.
func NewTargetAliases(overrides map[string]string) *TargetAliases {
	a := DefaultAliases()
	for k, v := range overrides {
		a.Aliases[k] = v
	}
	return a
}

// Resolve returns the stage name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *TargetAliases) Resolve(targetOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return targetOrAlias
	}
	if stage, ok := a.Aliases[targetOrAlias]; ok {
		return stage
	}
	return targetOrAlias
}

// ResolveAll resolves every target in order.
func (a *TargetAliases) ResolveAll(targets []string) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = a.Resolve(t)
	}
	return out
}

// IsAlias returns true if the given string is a known alias.
func (a *TargetAliases) IsAlias(name string) bool {
	if a == nil || a.Aliases == nil {
		return false
	}
	_, ok := a.Aliases[name]
	return ok
}

// ListAliases returns a copy of the aliases map.
func (a *TargetAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(a.Aliases))
	for k, v := range a.Aliases {
		result[k] = v
	}
	return result
}

// Names returns the alias names, sorted.
func (a *TargetAliases) Names() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Aliases))
	for k := range a.Aliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks aliases against the registered stage names. An alias may
// not shadow a stage, and it must point at one. Aliases whose stage is
// missing are only reported when strict is set, so the defaults can be used
// with manifests that lack some of the collection's stages.
func (a *TargetAliases) Validate(stages []string, strict bool) []error {
	if a == nil {
		return nil
	}
	known := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		known[s] = struct{}{}
	}

	var errs []error
	for _, name := range a.Names() {
		if _, ok := known[name]; ok {
			errs = append(errs, fmt.Errorf("alias %q shadows a stage of the same name", name))
			continue
		}
		if _, ok := known[a.Aliases[name]]; !ok && strict {
			errs = append(errs, fmt.Errorf("alias %q: unknown stage %q", name, a.Aliases[name]))
		}
	}
	return errs
}

// DefaultAliases returns the built-in target aliases for the collection
// pipeline.
func DefaultAliases() *TargetAliases {
	return &TargetAliases{
		Aliases: map[string]string{
			"fmt":     "ruff-formatter",
			"format":  "ruff-formatter",
			"lint":    "lint-check",
			"fix":     "ruff-lint-fix",
			"types":   "typecheck",
			"docs":    "build-docs",
			"serve":   "run-docs",
			"build":   "galaxy-build",
			"publish": "galaxy-publish",
		},
	}
}
