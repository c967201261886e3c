package vm

// InheritanceResolver is a ModuleResolver that resolves a module name to
// a registered Class and walks its superclass chain looking for a
// bucket under the given symbol, exactly the way Class.LookupMethod
// does for ordinary sends. It backs MethodTable.Alias.
type InheritanceResolver struct {
	Classes *ClassTable
}

// NewInheritanceResolver creates a resolver backed by classes.
func NewInheritanceResolver(classes *ClassTable) *InheritanceResolver {
	return &InheritanceResolver{Classes: classes}
}

// Resolve finds module by name and returns the first installable bucket
// for name found by walking module's own method table, then its
// superclass's, and so on. A bucket whose Method is still nil (an
// installable token with nothing compiled yet) is not a valid alias
// target; the walk continues past it up the chain. Class-side lookups
// aren't attempted here: aliasing a class-side selector requires a
// resolver that knows it's being asked for one, which this core leaves
// to the embedder to layer on top.
func (r *InheritanceResolver) Resolve(module string, name Symbol) (*Bucket, bool) {
	class := r.Classes.Lookup(module)
	if class == nil {
		return nil, false
	}
	for current := class; current != nil; current = current.Superclass {
		b, ok := current.Methods.FindEntry(name)
		if !ok || b.Method() == nil {
			continue
		}
		return b, true
	}
	return nil, false
}
