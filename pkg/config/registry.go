package config

import "sort"

// PresetRegistry holds the sub-agent presets eligible for orchestrator
// dispatch, resolved against orchestrator defaults.
type PresetRegistry struct {
	entries []PresetEntry
}

// BuildPresetRegistry creates a registry from the merged preset map.
// Presets with an empty tool allowlist are still registered; validation
// rejects them before the registry is used.
func BuildPresetRegistry(presets map[string]*PresetConfig, defaults *OrchestratorConfig) *PresetRegistry {
	var entries []PresetEntry
	for name, p := range presets {
		if p == nil {
			continue
		}
		entry := PresetEntry{
			Name:               name,
			Description:        p.Description,
			CanSpawnChildren:   p.CanSpawnChildren,
			MaxDelegationDepth: p.MaxDelegationDepth,
			AttemptTimeoutMS:   p.AttemptTimeoutMS,
			MaxRetries:         defaults.MaxRetries,
			CloseOnCompletion:  true,
			ReportFormat:       p.ReportFormat,
		}
		if len(p.AllowedTools) > 0 {
			entry.AllowedTools = make([]string, len(p.AllowedTools))
			copy(entry.AllowedTools, p.AllowedTools)
			sort.Strings(entry.AllowedTools)
		}
		if entry.AttemptTimeoutMS == 0 {
			entry.AttemptTimeoutMS = defaults.AttemptTimeoutMS
		}
		if p.MaxRetries != nil {
			entry.MaxRetries = *p.MaxRetries
		}
		if p.CloseOnCompletion != nil {
			entry.CloseOnCompletion = *p.CloseOnCompletion
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return &PresetRegistry{entries: entries}
}

// Entries returns a deep copy of all entries in the registry.
func (r *PresetRegistry) Entries() []PresetEntry {
	out := make([]PresetEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns the entry for the given preset name.
func (r *PresetRegistry) Get(name string) (PresetEntry, error) {
	for _, e := range r.entries {
		if e.Name == name {
			return e.clone(), nil
		}
	}
	return PresetEntry{}, ErrPresetNotFound
}

// Filter returns a new registry containing only presets whose names are in
// allowedNames. A nil allowedNames keeps everything.
func (r *PresetRegistry) Filter(allowedNames []string) *PresetRegistry {
	if allowedNames == nil {
		copied := make([]PresetEntry, len(r.entries))
		for i, e := range r.entries {
			copied[i] = e.clone()
		}
		return &PresetRegistry{entries: copied}
	}
	allowed := make(map[string]bool, len(allowedNames))
	for _, name := range allowedNames {
		allowed[name] = true
	}
	var filtered []PresetEntry
	for _, entry := range r.entries {
		if allowed[entry.Name] {
			filtered = append(filtered, entry.clone())
		}
	}
	return &PresetRegistry{entries: filtered}
}

// Len returns the number of registered presets.
func (r *PresetRegistry) Len() int {
	return len(r.entries)
}
