package loom

import (
	"strings"

	"github.com/TheBitDrifter/loom/internal/nameindex"
)

// PathSeparator separates scopes in Lookup paths.
const PathSeparator = "."

// scopeNames returns the name index of children of parent. Parent 0 is the
// root scope.
func (w *World) scopeNames(parent ID, create bool) *nameindex.Index {
	if parent == 0 {
		return w.rootNames
	}
	cr := w.index.get(Pair(ChildOf, parent))
	if cr == nil || cr.pair == nil {
		return nil
	}
	if cr.pair.names == nil && create {
		cr.pair.names = nameindex.New(w.cfg.Debug)
	}
	return cr.pair.names
}

func validateName(name string) error {
	if name == "" {
		return invalidParam("name", "must not be empty")
	}
	if strings.Contains(name, PathSeparator) {
		return invalidParam("name", "%q contains the path separator", name)
	}
	return nil
}

// setName assigns name to e in the scope of its parent.
func (w *World) setName(e ID, name string) error {
	r := w.entities.get(e)
	parent := w.tableParent(r.table)
	idx := w.scopeNames(parent, true)
	key := nameindex.NewKey(name)
	if other, ok := idx.Find(key); ok && ID(other) != e {
		return DuplicateNameError{Name: name, Owner: ID(other), Conflict: e}
	}
	if r.table != nil {
		if old := w.identifier(r.table, int(r.row)); old != nil && old.Value != "" {
			idx.Remove(uint64(e), nameindex.Key{Hash: old.Hash, Len: len(old.Value), Value: old.Value})
		}
	}
	if err := idx.Ensure(uint64(e), key); err != nil {
		return DuplicateNameError{Name: name, Conflict: e}
	}
	ident := Identifier{Value: name, Hash: key.Hash}
	ptr := w.ensurePtr(e, Name)
	*(*Identifier)(ptr) = ident
	w.emit(OnSet, e, Name, ptr)
	return nil
}

// checkScopeName reports whether e could move under parent without a name
// conflict.
func (w *World) checkScopeName(e, parent ID) error {
	r := w.entities.get(e)
	if r == nil || r.table == nil || r.table.flags&archetypeHasName == 0 {
		return nil
	}
	ident := w.identifier(r.table, int(r.row))
	if ident == nil || ident.Value == "" {
		return nil
	}
	idx := w.scopeNames(parent, false)
	if idx == nil {
		return nil
	}
	if other, ok := idx.FindString(ident.Value); ok && ID(other) != e {
		return DuplicateNameError{Name: ident.Value, Owner: ID(other), Conflict: e}
	}
	return nil
}

// Name returns the name of e, or "".
func (w *World) Name(e ID) string {
	r := w.entities.get(e)
	if r == nil || r.table == nil {
		return ""
	}
	if ident := w.identifier(r.table, int(r.row)); ident != nil {
		return ident.Value
	}
	return ""
}

// LookupChild finds a direct child of parent by name. Parent 0 searches
// the root scope.
func (w *World) LookupChild(parent ID, name string) ID {
	idx := w.scopeNames(parent, false)
	if idx == nil {
		return 0
	}
	id, ok := idx.FindString(name)
	if !ok || !w.entities.isAlive(ID(id)) {
		return 0
	}
	return ID(id)
}

// Lookup resolves a path such as "world.player.weapon" from the root.
func (w *World) Lookup(path string) ID {
	if path == "" {
		return 0
	}
	var cur ID
	for _, part := range strings.Split(path, PathSeparator) {
		cur = w.LookupChild(cur, part)
		if cur == 0 {
			return 0
		}
	}
	return cur
}

// Path returns the name path of e from the root scope.
func (w *World) Path(e ID) string {
	var parts []string
	for cur, depth := e, 0; cur != 0 && depth < maxInheritDepth; depth++ {
		parts = append(parts, w.Name(cur))
		r := w.entities.get(cur)
		if r == nil {
			break
		}
		cur = w.tableParent(r.table)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, PathSeparator)
}
