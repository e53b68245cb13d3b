package scene

import "deferred-renderer/core"

// Transformed pairs a value with the world transform it is drawn with.
type Transformed[T any] struct {
	Value     T
	Transform core.Transform
}

func WithTransform[T any](value T, transform core.Transform) Transformed[T] {
	return Transformed[T]{Value: value, Transform: transform}
}

// MapTransformed converts the value and keeps the transform.
func MapTransformed[T, U any](t Transformed[T], fn func(T) U) Transformed[U] {
	return Transformed[U]{Value: fn(t.Value), Transform: t.Transform}
}
