package store

import (
	"fmt"

	"github.com/roach88/modcall/internal/ir"
)

// marshalTags converts tags to canonical JSON TEXT for storage.
func marshalTags(tags []string) (string, error) {
	arr := make(ir.IRArray, len(tags))
	for i, t := range tags {
		arr[i] = ir.IRString(t)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// unmarshalTags parses canonical JSON TEXT back to tags.
func unmarshalTags(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("unmarshal tags: got %s, want array", ir.KindName(v))
	}
	tags := make([]string, len(arr))
	for i, el := range arr {
		s, ok := el.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("unmarshal tags: element %d is %s", i, ir.KindName(el))
		}
		tags[i] = string(s)
	}
	return tags, nil
}
