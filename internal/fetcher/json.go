package fetcher

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// DecodeJSON decodes a JSON payload into the given type.
func DecodeJSON[T any](data []byte) (*T, error) {
	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, eris.Wrap(err, "json: decode payload")
	}
	return &obj, nil
}

// DecodeJSONArray decodes a JSON array payload into a slice of the given type.
func DecodeJSONArray[T any](data []byte) ([]T, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, eris.Wrap(err, "json: decode array")
	}
	return items, nil
}
