package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SourceKind 文档来源类型
type SourceKind string

const (
	SourceKindBucket SourceKind = "bucket"
	SourceKindHTTP   SourceKind = "http"
	SourceKindFile   SourceKind = "file"
)

// SourceDescriptor describes where a document comes from without fetching it.
// The set of implementations is closed: BucketSource, HttpSource and FileSource.
type SourceDescriptor interface {
	Kind() SourceKind
	sourceDescriptor()
}

// BucketSource points at an object in a cloud storage bucket, e.g. s3://bucket/path/to/file.pdf.
type BucketSource struct {
	URI string `json:"uri" validate:"required,url"`
}

func (BucketSource) Kind() SourceKind  { return SourceKindBucket }
func (BucketSource) sourceDescriptor() {}

// HttpSource is fetched with a GET carrying Headers verbatim.
type HttpSource struct {
	URL     string  `json:"url" validate:"required,http_url"`
	Headers Headers `json:"headers"`
}

func (HttpSource) Kind() SourceKind  { return SourceKindHTTP }
func (HttpSource) sourceDescriptor() {}

// FileSource carries the document inline. Filename is metadata only.
type FileSource struct {
	Base64String string `json:"base64_string" validate:"required"`
	Filename     string `json:"filename" validate:"required"`
}

func (FileSource) Kind() SourceKind  { return SourceKindFile }
func (FileSource) sourceDescriptor() {}

// MaterializedDocument is a descriptor resolved into bytes.
type MaterializedDocument struct {
	Name    string
	Content []byte
}

var ErrEmptyObjectKey = errors.New("no path specified in the bucket URL")

// BucketLocation is a parsed BucketSource URI.
type BucketLocation struct {
	// Locator identifies the store, scheme://host.
	Locator string
	Scheme  string
	Bucket  string
	// Key is the percent-decoded object path without the leading slash.
	Key string
}

// ParseBucketURI splits a bucket URI into its store locator and object key.
func ParseBucketURI(raw string) (BucketLocation, error) {
	loc, err := ParseBucketPrefix(raw)
	if err != nil {
		return BucketLocation{}, err
	}
	if loc.Key == "" {
		return BucketLocation{}, fmt.Errorf("%w: %s", ErrEmptyObjectKey, raw)
	}
	return loc, nil
}

// ParseBucketPrefix is ParseBucketURI for locations where the key is a
// prefix and may be empty, such as result targets.
func ParseBucketPrefix(raw string) (BucketLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BucketLocation{}, fmt.Errorf("invalid bucket URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return BucketLocation{}, fmt.Errorf("invalid bucket URL %q: missing scheme or bucket", raw)
	}

	// u.Path is already percent-decoded
	return BucketLocation{
		Locator: u.Scheme + "://" + u.Host,
		Scheme:  strings.ToLower(u.Scheme),
		Bucket:  u.Host,
		Key:     strings.TrimLeft(u.Path, "/"),
	}, nil
}

// URI renders the location back into scheme://bucket/key form.
func (l BucketLocation) URI() string {
	return l.Locator + "/" + (&url.URL{Path: l.Key}).EscapedPath()
}

// Join returns the location of name below l's key.
func (l BucketLocation) Join(name string) BucketLocation {
	out := l
	if l.Key == "" {
		out.Key = name
	} else {
		out.Key = strings.TrimRight(l.Key, "/") + "/" + name
	}
	return out
}

// Header is one extra request header of an HttpSource.
type Header struct {
	Name  string
	Value string
}

// Headers keeps the order in which headers appear in the JSON object.
type Headers []Header

func (h Headers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, hdr := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(hdr.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(hdr.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a flat object. Scalar values are kept as their
// literal text; nested objects and arrays are rejected.
func (h *Headers) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*h = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("headers must be a JSON object")
	}

	out := make(Headers, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		var value string
		switch v := valTok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = fmt.Sprintf("%t", v)
		case nil:
			value = ""
		default:
			return fmt.Errorf("header %q must have a scalar value", key)
		}
		out = append(out, Header{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*h = out
	return nil
}
