package saga

import (
	"encoding/json"
	"fmt"
)

// Codec converts saga instances to and from the value stored under their correlation key.
type Codec[T Saga] interface {
	Marshal(instance T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// JSONCodec stores instances as JSON documents.
type JSONCodec[T Saga] struct{}

func (JSONCodec[T]) Marshal(instance T) ([]byte, error) {
	data, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize saga: %w", err)
	}
	return data, nil
}

func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var instance T
	if err := json.Unmarshal(data, &instance); err != nil {
		return instance, fmt.Errorf("failed to deserialize saga: %w", err)
	}
	return instance, nil
}
