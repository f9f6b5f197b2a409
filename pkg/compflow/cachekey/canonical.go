package cachekey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical returns a stable JSON encoding of v. Object keys are always
// sorted. When unordered is true, every nested list is sorted by the
// canonical encoding of its elements as well.
func Canonical(v any, unordered bool) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	if unordered {
		generic, err = sortLists(generic)
		if err != nil {
			return nil, err
		}
	}

	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

func sortLists(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			sorted, err := sortLists(item)
			if err != nil {
				return nil, err
			}
			val[k] = sorted
		}
		return val, nil

	case []any:
		type keyed struct {
			enc  []byte
			item any
		}
		items := make([]keyed, len(val))
		for i, item := range val {
			sorted, err := sortLists(item)
			if err != nil {
				return nil, err
			}
			enc, err := json.Marshal(sorted)
			if err != nil {
				return nil, fmt.Errorf("encode list element: %w", err)
			}
			items[i] = keyed{enc: enc, item: sorted}
		}
		sort.SliceStable(items, func(i, j int) bool {
			return bytes.Compare(items[i].enc, items[j].enc) < 0
		})
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it.item
		}
		return out, nil
	}
	return v, nil
}
