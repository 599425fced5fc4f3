package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError 字段校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a request before any I/O happens and before a task exists.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request shape. Options are not interpreted beyond to_formats.
func (r *ConvertDocumentsRequest) Validate() error {
	verr := &ValidationError{}
	field := sourceField(r.Kind)

	if len(r.Sources) == 0 {
		verr.add(field, "at least one source is required")
	}

	for i, src := range r.Sources {
		name := fmt.Sprintf("%s[%d]", field, i)
		if src.Kind() != r.Kind {
			verr.add(name, "source kind %s does not match request kind %s", src.Kind(), r.Kind)
			continue
		}
		if err := structValidator().Struct(src); err != nil {
			addValidatorErrors(verr, name, err)
			continue
		}
		if b, ok := src.(BucketSource); ok {
			if _, err := ParseBucketURI(b.URI); err != nil {
				verr.add(name+".uri", "%s", err.Error())
			}
		}
	}

	for _, f := range r.Options.ToFormats {
		if !knownFormats[f] {
			verr.add("options.to_formats", "unsupported output format %q", f)
		}
	}

	if r.Target != nil {
		if err := structValidator().Struct(r.Target); err != nil {
			addValidatorErrors(verr, "target", err)
		} else if _, err := ParseBucketPrefix(r.Target.URI); err != nil {
			verr.add("target.uri", "%s", err.Error())
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func sourceField(kind SourceKind) string {
	switch kind {
	case SourceKindBucket:
		return "bucket_sources"
	case SourceKindHTTP:
		return "http_sources"
	case SourceKindFile:
		return "file_sources"
	default:
		return "sources"
	}
}

func addValidatorErrors(verr *ValidationError, prefix string, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add(prefix, "%s", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(prefix+"."+jsonName(fe.Field()), "failed on the '%s' rule", fe.Tag())
	}
}

func jsonName(goField string) string {
	switch goField {
	case "URI":
		return "uri"
	case "URL":
		return "url"
	case "Base64String":
		return "base64_string"
	case "Filename":
		return "filename"
	default:
		return strings.ToLower(goField)
	}
}
