package domain

import (
	"sort"
	"time"
)

// ProfilesCollection holds one profile document per identity, keyed by uid.
const ProfilesCollection = "users"

// Reserved profile document keys.
const (
	FieldUID         = "uid"
	FieldEmail       = "email"
	FieldDisplayName = "displayName"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
	FieldLastLogin   = "lastLogin"
)

// Document is a schemaless profile document as stored in the profile store.
type Document map[string]any

// Profile is the typed view of a profile document. Fields holds everything that
// is not one of the reserved keys (fullName, country, preferences, ...).
type Profile struct {
	UID         string         `json:"uid"`
	Email       string         `json:"email"`
	DisplayName string         `json:"displayName"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	LastLogin   time.Time      `json:"lastLogin"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// NewProfileDocument builds the document written at registration.
func NewProfileDocument(id *Identity, displayName string, fields map[string]any, now time.Time) Document {
	doc := make(Document, len(fields)+6)
	for k, v := range fields {
		doc[k] = v
	}
	doc[FieldUID] = id.UID
	doc[FieldEmail] = id.Email
	doc[FieldDisplayName] = displayName
	doc[FieldCreatedAt] = now
	doc[FieldUpdatedAt] = now
	doc[FieldLastLogin] = now
	return doc
}

// ProfileFromDocument converts a stored document into a Profile.
func ProfileFromDocument(doc Document) *Profile {
	p := &Profile{Fields: map[string]any{}}
	for k, v := range doc {
		switch k {
		case FieldUID:
			p.UID, _ = v.(string)
		case FieldEmail:
			p.Email, _ = v.(string)
		case FieldDisplayName:
			p.DisplayName, _ = v.(string)
		case FieldCreatedAt:
			p.CreatedAt, _ = v.(time.Time)
		case FieldUpdatedAt:
			p.UpdatedAt, _ = v.(time.Time)
		case FieldLastLogin:
			p.LastLogin, _ = v.(time.Time)
		case "_id":
		default:
			p.Fields[k] = v
		}
	}
	return p
}

// Document converts the profile back into its stored form.
func (p *Profile) Document() Document {
	doc := make(Document, len(p.Fields)+6)
	for k, v := range p.Fields {
		doc[k] = v
	}
	doc[FieldUID] = p.UID
	doc[FieldEmail] = p.Email
	doc[FieldDisplayName] = p.DisplayName
	doc[FieldCreatedAt] = p.CreatedAt
	doc[FieldUpdatedAt] = p.UpdatedAt
	doc[FieldLastLogin] = p.LastLogin
	return doc
}

// Get returns a field, looking at reserved keys too.
func (p *Profile) Get(key string) (any, bool) {
	v, ok := p.Document()[key]
	return v, ok
}

// String returns a string field or "" when missing.
func (p *Profile) String(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

// Clone deep-copies the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Fields = CloneDocument(p.Fields)
	return &c
}

// CloneDocument deep-copies nested maps and slices.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneDocument(t)
	case Document:
		return Document(CloneDocument(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MergeDocument merges patch into dst. Nested maps are merged key by key,
// every other value replaces what was there.
func MergeDocument(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range patch {
		pm, pok := asMap(v)
		dm, dok := asMap(dst[k])
		if pok && dok {
			dst[k] = MergeDocument(dm, pm)
			continue
		}
		dst[k] = cloneValue(v)
	}
	return dst
}

// FlattenDocument turns nested maps into dotted paths, the form a field-level
// update needs to merge instead of replacing whole sub-documents. Empty nested
// maps are kept as values.
func FlattenDocument(doc map[string]any) map[string]any {
	out := map[string]any{}
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, doc map[string]any) {
	for k, v := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := asMap(v); ok && len(m) > 0 {
			flattenInto(out, path, m)
			continue
		}
		out[path] = v
	}
}

// SortedKeys is used for deterministic logging of patches.
func SortedKeys(doc map[string]any) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}
