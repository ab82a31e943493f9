package retrieval

import (
	"strings"

	"github.com/hyperjump/ragchain/internal/models"
)

// Predicate selects passages in a filtered retrieval.
type Predicate func(p *models.Passage) bool

// ContentContainsAny matches passages whose content contains at least one of subs.
func ContentContainsAny(subs ...string) Predicate {
	return func(p *models.Passage) bool {
		for _, s := range subs {
			if strings.Contains(p.Content, s) {
				return true
			}
		}
		return false
	}
}

// ContentContainsAll matches passages whose content contains every one of subs.
func ContentContainsAll(subs ...string) Predicate {
	return func(p *models.Passage) bool {
		for _, s := range subs {
			if !strings.Contains(p.Content, s) {
				return false
			}
		}
		return true
	}
}

// ContentIn matches passages whose content equals one of contents.
func ContentIn(contents ...string) Predicate {
	set := make(map[string]struct{}, len(contents))
	for _, c := range contents {
		set[c] = struct{}{}
	}
	return func(p *models.Passage) bool {
		_, ok := set[p.Content]
		return ok
	}
}

// FilepathIn matches passages from one of paths.
func FilepathIn(paths ...string) Predicate {
	set := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		set[path] = struct{}{}
	}
	return func(p *models.Passage) bool {
		_, ok := set[p.Filepath]
		return ok
	}
}

// MetadataEquals matches passages whose metadata key has value.
func MetadataEquals(key, value string) Predicate {
	return func(p *models.Passage) bool {
		v, ok := p.Metadata[key]
		return ok && v == value
	}
}

// And matches when every predicate matches. No predicates match everything.
func And(preds ...Predicate) Predicate {
	return func(p *models.Passage) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches. No predicates match nothing.
func Or(preds ...Predicate) Predicate {
	return func(p *models.Passage) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

// Not inverts pred.
func Not(pred Predicate) Predicate {
	return func(p *models.Passage) bool { return !pred(p) }
}

// FromRequest builds the predicate of a retrieve request, or nil when it has no filter.
func FromRequest(req *models.RetrieveRequest) Predicate {
	var preds []Predicate
	if len(req.Contains) > 0 {
		preds = append(preds, ContentContainsAny(req.Contains...))
	}
	if len(req.Filepaths) > 0 {
		preds = append(preds, FilepathIn(req.Filepaths...))
	}
	if len(preds) == 0 {
		return nil
	}
	return And(preds...)
}
