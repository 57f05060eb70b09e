package skill

import "fmt"

// Validate checks data against a declared schema: required fields must be
// present, typed fields must satisfy their type predicate, and custom
// predicates run last. Error messages start with "validation" so the
// retry deny-list always skips them.
func Validate(schema []Field, data map[string]any) error {
	for _, f := range schema {
		v, present := data[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("validation failed: required field %s missing", f.Name)
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			return fmt.Errorf("validation failed: field %s: expected %s, got %T", f.Name, f.Type, v)
		}
		if f.Check != nil {
			if err := f.Check(v); err != nil {
				return fmt.Errorf("validation failed: field %s: %v", f.Name, err)
			}
		}
	}
	return nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		switch v.(type) {
		case []any, []string, []int, []float64, []map[string]any:
			return true
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}
