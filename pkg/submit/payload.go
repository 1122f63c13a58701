package submit

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/gabrielmiguelok/easyforms/pkg/forms"
	"github.com/gabrielmiguelok/easyforms/pkg/uploads"
)

// Payload is an encoded multipart request body.
type Payload struct {
	Body        *bytes.Buffer
	ContentType string
}

// payloadBuilder writes form values as multipart fields. Keys are sent with
// their bracketed input names; lists and file lists become repeated "name[]"
// parts; nil values and row-count sentinels are left out.
type payloadBuilder struct {
	buf bytes.Buffer
	w   *multipart.Writer
}

func newPayloadBuilder() *payloadBuilder {
	b := &payloadBuilder{}
	b.w = multipart.NewWriter(&b.buf)
	return b
}

// buildPayload encodes values in the given key order, then the extra fields.
func buildPayload(values map[string]any, order func([]string) []string, extra [][2]string) (Payload, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !forms.IsCountKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if order != nil {
		keys = order(keys)
	}

	b := newPayloadBuilder()
	for _, key := range keys {
		if err := b.add(forms.InputName(key), values[key]); err != nil {
			return Payload{}, fmt.Errorf("encode %q: %w", key, err)
		}
	}
	for _, kv := range extra {
		if err := b.w.WriteField(kv[0], kv[1]); err != nil {
			return Payload{}, err
		}
	}
	if err := b.w.Close(); err != nil {
		return Payload{}, err
	}
	return Payload{Body: &b.buf, ContentType: b.w.FormDataContentType()}, nil
}

func (b *payloadBuilder) add(name string, value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case uploads.File:
		return b.file(name, v)
	case *uploads.File:
		if v == nil {
			return nil
		}
		return b.file(name, *v)
	case []uploads.File:
		for _, f := range v {
			if err := b.file(name+"[]", f); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, item := range v {
			if err := b.w.WriteField(name+"[]", item); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			if f, ok := item.(uploads.File); ok {
				if err := b.file(name+"[]", f); err != nil {
					return err
				}
				continue
			}
			if err := b.w.WriteField(name+"[]", scalar(item)); err != nil {
				return err
			}
		}
		return nil
	}
	return b.w.WriteField(name, scalar(value))
}

func (b *payloadBuilder) file(name string, f uploads.File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(name), escapeQuotes(f.Name)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := b.w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
