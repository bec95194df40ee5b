package helpers

import "reflect"

// MergeConfig copies every non-zero field of source into the field of the
// same name in target. Both must be pointers to structs.
//
// Pointer fields holding a zero value still override, so callers can set
// temperature 0 explicitly. Empty slices and maps never override.
//
// Example:
//
//	cfg := DefaultConfig()
//	helpers.MergeConfig(cfg, &Config{MaxTokens: helpers.PtrOf(1024)})
func MergeConfig(target, source any) {
	if target == nil || source == nil {
		return
	}
	targetVal := reflect.ValueOf(target)
	sourceVal := reflect.ValueOf(source)
	if targetVal.Kind() != reflect.Ptr || sourceVal.Kind() != reflect.Ptr || sourceVal.IsNil() {
		return
	}
	targetVal, sourceVal = targetVal.Elem(), sourceVal.Elem()
	if targetVal.Kind() != reflect.Struct || sourceVal.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < sourceVal.NumField(); i++ {
		field := sourceVal.Field(i)
		targetField := targetVal.FieldByName(sourceVal.Type().Field(i).Name)
		if !targetField.IsValid() || !targetField.CanSet() || targetField.Type() != field.Type() {
			continue
		}
		switch field.Kind() {
		case reflect.Slice, reflect.Map:
			if !field.IsNil() && field.Len() > 0 {
				targetField.Set(field)
			}
		default:
			if !field.IsZero() {
				targetField.Set(field)
			}
		}
	}
}
