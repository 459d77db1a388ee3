package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const logPrefix = "value:codec"

// fragmentRadius is how many bytes around a decode error are quoted back.
const fragmentRadius = 12

// Encoded is the boundary-safe text form of a Value. It is the only form in
// which arguments and results cross between a caller and a service.
type Encoded string

// Decode parses the encoded text.
func (e Encoded) Decode() (Value, error) {
	return Decode(e)
}

// DecodeError reports malformed encoded text.
type DecodeError struct {
	Offset   int64
	Fragment string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s - malformed value at offset %d near %q: %s", logPrefix, e.Offset, e.Fragment, e.Reason)
}

// Encode serializes v.
func Encode(v Value) Encoded {
	var b strings.Builder
	appendValue(&b, v)
	return Encoded(b.String())
}

// maxDepth bounds array and object nesting accepted by Decode.
const maxDepth = 10000

// Decode parses encoded text into a Value. Member order is captured as written.
// Input nested deeper than maxDepth is rejected with a DecodeError.
func Decode(text Encoded) (Value, error) {
	s := string(text)
	if !gjson.Valid(s) {
		return Value{}, newDecodeError(s)
	}
	return build(s)
}

// frame is an array or object still being filled by build.
type frame struct {
	kind    Kind
	items   []Value
	members []Member
	key     string
	hasKey  bool
}

// build assembles a Value from already validated text in one pass over its tokens.
func build(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var stack []*frame
	var root Value
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return root, nil
		}
		if err != nil {
			return Value{}, newDecodeError(s)
		}

		var v Value
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '[', '{':
				if len(stack) == maxDepth {
					off := dec.InputOffset() - 1
					return Value{}, &DecodeError{Offset: off, Fragment: fragmentAt(s, off), Reason: "nesting too deep"}
				}
				f := &frame{kind: KindArray, items: make([]Value, 0)}
				if t == '{' {
					f = &frame{kind: KindObject, members: make([]Member, 0)}
				}
				stack = append(stack, f)
				continue
			default:
				f := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				v = Value{kind: f.kind, items: f.items, members: f.members}
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].kind == KindObject && !stack[n-1].hasKey {
				stack[n-1].key, stack[n-1].hasKey = t, true
				continue
			}
			v = String(t)
		case json.Number:
			v = Value{kind: KindNumber, s: string(t)}
		case bool:
			v = Bool(t)
		case nil:
			v = Null()
		}

		if len(stack) == 0 {
			root = v
			continue
		}
		top := stack[len(stack)-1]
		if top.kind == KindArray {
			top.items = append(top.items, v)
			continue
		}
		top.members = append(top.members, Member{Key: top.key, Value: v})
		top.hasKey = false
	}
}

func appendValue(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNumber:
		b.WriteString(v.s)
	case KindString:
		appendString(b, v.s)
	case KindArray:
		b.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				b.WriteByte(',')
			}
			appendValue(b, item)
		}
		b.WriteByte(']')
	case KindObject:
		b.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				b.WriteByte(',')
			}
			appendString(b, m.Key)
			b.WriteByte(':')
			appendValue(b, m.Value)
		}
		b.WriteByte('}')
	}
}

func appendString(b *strings.Builder, s string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	b.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func isNumberLiteral(s string) bool {
	if s == "" || s != strings.TrimSpace(s) || !gjson.Valid(s) {
		return false
	}
	return gjson.Parse(s).Type == gjson.Number
}

// newDecodeError locates the first syntax error in s.
func newDecodeError(s string) *DecodeError {
	de := &DecodeError{Reason: "malformed value"}
	if strings.TrimSpace(s) == "" {
		de.Reason = "empty input"
		return de
	}

	var scratch interface{}
	err := json.Unmarshal([]byte(s), &scratch)
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		de.Offset = syntaxErr.Offset
		de.Reason = syntaxErr.Error()
	case err != nil:
		de.Reason = err.Error()
	}

	de.Fragment = fragmentAt(s, de.Offset)
	return de
}

// fragmentAt quotes the bytes of s around offset.
func fragmentAt(s string, offset int64) string {
	start := int(offset) - fragmentRadius
	if start < 0 {
		start = 0
	}
	end := int(offset) + fragmentRadius
	if end > len(s) {
		end = len(s)
	}
	if start > end {
		start = end
	}
	return s[start:end]
}
