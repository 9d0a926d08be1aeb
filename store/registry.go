package store

// Rule declares the mirror topology for one source collection: every
// document in the collection is replicated to the expanded path templates.
type Rule struct {
	// Collection is the source collection path (e.g., "users").
	Collection string

	// Templates are document path templates, ":id" standing for the source
	// document's id (e.g., "index/byEmail/entries/:id").
	Templates []string
}

// MirrorRules holds the declared mirror topology. It is consumed by the
// stream handler to keep mirrors in sync with out-of-band primary writes,
// and usable by applications to drive rule-based mirroring.
type MirrorRules struct {
	rules        []Rule
	byCollection map[string][]string
}

// NewMirrorRules creates an empty rule registry.
func NewMirrorRules() *MirrorRules {
	return &MirrorRules{
		byCollection: make(map[string][]string),
	}
}

// Register adds a rule. Registering the same collection again appends its
// templates. This should be called during setup, before the rules are read.
func (r *MirrorRules) Register(rule Rule) {
	r.rules = append(r.rules, rule)
	r.byCollection[rule.Collection] = append(r.byCollection[rule.Collection], rule.Templates...)
}

// TemplatesFor returns the path templates registered for the collection.
func (r *MirrorRules) TemplatesFor(collection string) []string {
	return r.byCollection[collection]
}

// PathsFor returns the mirror paths for one document of the collection,
// with ":id" expanded.
func (r *MirrorRules) PathsFor(collection, id string) []string {
	templates := r.byCollection[collection]
	if len(templates) == 0 {
		return nil
	}
	paths := make([]string, len(templates))
	for i, tmpl := range templates {
		paths[i] = ExpandTemplate(tmpl, id)
	}
	return paths
}

// HasRule reports whether the collection has any registered templates.
func (r *MirrorRules) HasRule(collection string) bool {
	return len(r.byCollection[collection]) > 0
}

// All returns every registered rule in registration order.
func (r *MirrorRules) All() []Rule {
	return r.rules
}
