package domain

// MetaKey is the document field that carries storage-internal metadata.
// It is stripped from reads unless the caller explicitly asks for it.
const MetaKey = "_meta"

// Object represents a federated entity (actor, note, etc.) as an open
// document: a required id plus arbitrary protocol attributes.
type Object map[string]any

// ID returns the object's globally unique URI, or "" if unset.
func (o Object) ID() string {
	id, _ := o["id"].(string)
	return id
}

// Meta returns the storage-internal metadata sub-map, or nil.
func (o Object) Meta() map[string]any {
	meta, _ := o[MetaKey].(map[string]any)
	return meta
}

// PrivateKey returns the actor's signing key from metadata, or "".
func (o Object) PrivateKey() string {
	key, _ := o.Meta()["privateKey"].(string)
	return key
}

// Type returns the object's type field, or "".
func (o Object) Type() string {
	t, _ := o["type"].(string)
	return t
}

// Clone returns a deep-enough copy: the top level and the meta sub-map are
// copied, nested values are shared.
func (o Object) Clone() Object {
	c := make(Object, len(o))
	for k, v := range o {
		c[k] = v
	}
	if meta := o.Meta(); meta != nil {
		m := make(map[string]any, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		c[MetaKey] = m
	}
	return c
}

// WithoutMeta returns a copy of the object with the metadata sub-map removed.
func (o Object) WithoutMeta() Object {
	c := o.Clone()
	delete(c, MetaKey)
	return c
}

// Activity represents one event in the federation stream (Follow, Create,
// Undo, ...). Same open-document shape as Object.
type Activity map[string]any

func (a Activity) ID() string {
	id, _ := a["id"].(string)
	return id
}

func (a Activity) Type() string {
	t, _ := a["type"].(string)
	return t
}

func (a Activity) Meta() map[string]any {
	meta, _ := a[MetaKey].(map[string]any)
	return meta
}

// EnsureMeta returns the metadata sub-map, creating it when absent.
func (a Activity) EnsureMeta() map[string]any {
	if meta := a.Meta(); meta != nil {
		return meta
	}
	meta := map[string]any{}
	a[MetaKey] = meta
	return meta
}

func (a Activity) Clone() Activity {
	return Activity(Object(a).Clone())
}

func (a Activity) WithoutMeta() Activity {
	return Activity(Object(a).WithoutMeta())
}

// Actors returns the activity's actor identifiers. The field may hold a bare
// identifier string, an embedded actor object, or a list of either.
func (a Activity) Actors() []string {
	return refIDs(a["actor"])
}

// EmbeddedObjects returns the fully denormalized object copies embedded in
// the activity's object field. Bare identifier references are skipped.
func (a Activity) EmbeddedObjects() []Object {
	var objects []Object
	for _, v := range asList(a["object"]) {
		if m, ok := v.(map[string]any); ok {
			objects = append(objects, Object(m))
		}
	}
	return objects
}

// ObjectIDs returns the ids of everything in the object field, whether
// embedded copies or bare references.
func (a Activity) ObjectIDs() []string {
	return refIDs(a["object"])
}

// ObjectTypes returns the distinct types of the embedded object copies, in
// first-seen order.
func (a Activity) ObjectTypes() []string {
	var types []string
	seen := map[string]bool{}
	for _, obj := range a.EmbeddedObjects() {
		if t := obj.Type(); t != "" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types
}

// Collections returns the named collections the activity belongs to,
// normalized to list form from either the scalar or the set representation.
func (a Activity) Collections() []string {
	return refIDs(a.Meta()["collection"])
}

// asList normalizes a scalar-or-array field to a slice.
func asList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

// refIDs extracts identifier strings from a scalar-or-array field whose
// members are either bare id strings or embedded documents.
func refIDs(v any) []string {
	var ids []string
	for _, item := range asList(v) {
		switch ref := item.(type) {
		case string:
			ids = append(ids, ref)
		case map[string]any:
			if id, ok := ref["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
