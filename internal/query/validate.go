package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"realmindex/internal/defs"
)

// ValidationError reports a structural problem in a query document. Pointer
// is a JSON-pointer-style path to the offending subtree.
type ValidationError struct {
	Pointer string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a query's structure before any SQL is built. It never
// consults the definition cache: unresolvable types are a query-time
// concern, not a shape concern.
func Validate(q Query) error {
	if q.Filter != nil {
		if err := validateFilter(*q.Filter, "/filter"); err != nil {
			return err
		}
	}
	for i, s := range q.Sort {
		pointer := "/sort/" + strconv.Itoa(i)
		if s.By == "" {
			return &ValidationError{Pointer: pointer + "/by", Message: "missing sort field"}
		}
		if s.Direction != "" && s.Direction != "asc" && s.Direction != "desc" {
			return &ValidationError{Pointer: pointer + "/direction",
				Message: "direction must be either 'asc' or 'desc'"}
		}
		if s.On != nil {
			if err := validateCodeRef(*s.On, pointer+"/on"); err != nil {
				return err
			}
		}
	}
	if q.Page != nil {
		if q.Page.Size <= 0 {
			return &ValidationError{Pointer: "/page/size", Message: "size must be a positive number"}
		}
		if q.Page.Number < 0 {
			return &ValidationError{Pointer: "/page/number", Message: "number must not be negative"}
		}
	}
	return nil
}

func validateFilter(f Filter, pointer string) error {
	if f.On != nil {
		if err := validateCodeRef(*f.On, pointer+"/on"); err != nil {
			return err
		}
	}

	predicates := 0
	if f.Type != nil {
		predicates++
		if err := validateCodeRef(*f.Type, pointer+"/type"); err != nil {
			return err
		}
		if f.Eq != nil || f.Contains != nil || f.Range != nil ||
			f.Not != nil || f.Any != nil || f.Every != nil || f.On != nil {
			return &ValidationError{Pointer: pointer,
				Message: "a type filter is pure: it admits no other predicates"}
		}
		return nil
	}
	if f.Eq != nil {
		predicates++
		for key, value := range f.Eq {
			if err := validateJSONValue(value, pointer+"/eq/"+key); err != nil {
				return err
			}
		}
	}
	if f.Contains != nil {
		predicates++
		for key, value := range f.Contains {
			if err := validateJSONValue(value, pointer+"/contains/"+key); err != nil {
				return err
			}
		}
	}
	if f.Range != nil {
		predicates++
		for key, rv := range f.Range {
			fieldPointer := pointer + "/range/" + key
			bounds := 0
			for _, op := range RangeOperators {
				bound := rv.Bound(op.Name)
				if bound == nil {
					continue
				}
				bounds++
				if isJSONNull(bound) {
					return &ValidationError{Pointer: fieldPointer + "/" + op.Name,
						Message: "'null' is not a permitted value in a 'range' filter"}
				}
				if err := validateJSONPrimitive(bound, fieldPointer+"/"+op.Name); err != nil {
					return err
				}
			}
			if bounds == 0 {
				return &ValidationError{Pointer: fieldPointer,
					Message: "range item must be gt, gte, lt, or lte"}
			}
		}
	}
	if f.Not != nil {
		predicates++
		if err := validateFilter(*f.Not, pointer+"/not"); err != nil {
			return err
		}
	}
	if f.Any != nil {
		predicates++
		for i, sub := range f.Any {
			if err := validateFilter(sub, pointer+"/any/"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
	}
	if f.Every != nil {
		predicates++
		for i, sub := range f.Every {
			if err := validateFilter(sub, pointer+"/every/"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
	}

	if predicates == 0 {
		return &ValidationError{Pointer: pointer, Message: "cannot determine the type of filter"}
	}
	if predicates > 1 {
		return &ValidationError{Pointer: pointer,
			Message: "a filter must contain exactly one predicate"}
	}
	return nil
}

func validateCodeRef(ref defs.CodeRef, pointer string) error {
	if ref.Module == "" || ref.Name == "" {
		return &ValidationError{Pointer: pointer, Message: "type is not valid"}
	}
	return nil
}

func validateJSONValue(raw json.RawMessage, pointer string) error {
	if len(raw) == 0 {
		return &ValidationError{Pointer: pointer, Message: "missing value"}
	}
	if !json.Valid(raw) {
		return &ValidationError{Pointer: pointer, Message: "not a JSON value"}
	}
	return nil
}

func validateJSONPrimitive(raw json.RawMessage, pointer string) error {
	if err := validateJSONValue(raw, pointer); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return &ValidationError{Pointer: pointer, Message: "value must be a JSON primitive"}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
