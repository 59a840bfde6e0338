package service

import (
	"bytes"
	"encoding/json"
)

// Field is a JSON attribute that distinguishes absent, null and set.
// A value of the wrong JSON type marks the field Invalid instead of failing
// the whole decode.
type Field[T any] struct {
	Set     bool
	Null    bool
	Invalid bool
	Value   T
}

// Some returns a set field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns an explicitly null field.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		return nil
	}
	if err := json.Unmarshal(data, &f.Value); err != nil {
		f.Invalid = true
	}
	return nil
}

// TaskInput is the body of create and update requests.
type TaskInput struct {
	Name        Field[string] `json:"nome"`
	Description Field[string] `json:"descricao"`
	Completed   Field[bool]   `json:"finalizado"`
	DueAt       Field[string] `json:"data_limite"`
}
