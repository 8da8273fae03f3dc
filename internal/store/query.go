package store

import (
	"encoding/json"
	"sort"
)

// matchDocument evaluates all filters against the document body. Fields are
// top-level JSON keys; numbers compare numerically, everything else compares
// as strings (RFC 3339 timestamps order correctly that way).
func matchDocument(data json.RawMessage, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return false, err
	}
	for _, f := range filters {
		got, ok := body[f.Field]
		if !ok {
			return false, nil
		}
		cmp, comparable := compareValues(got, f.Value)
		if !comparable {
			return false, nil
		}
		switch f.Op {
		case "==":
			if cmp != 0 {
				return false, nil
			}
		case "<":
			if cmp >= 0 {
				return false, nil
			}
		case "<=":
			if cmp > 0 {
				return false, nil
			}
		case ">":
			if cmp <= 0 {
				return false, nil
			}
		case ">=":
			if cmp < 0 {
				return false, nil
			}
		default:
			return false, nil
		}
	}
	return true, nil
}

func compareValues(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// sortAndLimit applies the query's ordering and limit to already-filtered
// documents.
func sortAndLimit(docs []Document, q Query) []Document {
	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			if q.Desc {
				return fieldLess(docs[j].Data, docs[i].Data, q.OrderBy)
			}
			return fieldLess(docs[i].Data, docs[j].Data, q.OrderBy)
		})
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func fieldLess(a, b json.RawMessage, field string) bool {
	av := fieldValue(a, field)
	bv := fieldValue(b, field)
	cmp, ok := compareValues(av, bv)
	if !ok {
		return false
	}
	return cmp < 0
}

func fieldValue(data json.RawMessage, field string) any {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return body[field]
}
