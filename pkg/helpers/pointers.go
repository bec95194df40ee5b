package helpers

// PtrOf creates a pointer to any value type. Useful for optional config fields.
//
// Example:
//
//	cfg.Temperature = helpers.PtrOf(0.3)
func PtrOf[T any](t T) *T { return &t }
