package serializer

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxDepth      = 3
	DefaultMaxByteLength = 1024

	// Unserializable replaces a value whose encoding failed outright.
	Unserializable = "{serialization error}"
)

// ErrSkip is returned by an Encoder to hand the value to the next strategy.
var ErrSkip = errors.New("serializer: skip encoder")

// Encoder converts a value of a registered type into something the
// serializer understands (scalars, slices, maps, or other encodable values).
type Encoder func(v any) (any, error)

// Serializable is implemented by values that know how to present themselves
// in an event. Errors and panics raised by the method degrade to a
// placeholder.
type Serializable interface {
	SerializeForSentry() (any, error)
}

var (
	serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()
	errorType        = reflect.TypeOf((*error)(nil)).Elem()
	timeType         = reflect.TypeOf(time.Time{})
)

// Serializer turns arbitrary values into JSON safe structures bounded in depth
// and string length. It has no error return: anything it cannot encode is
// replaced with a placeholder string.
type Serializer struct {
	maxDepth      int
	maxByteLength int

	mu       sync.RWMutex
	encoders map[reflect.Type]Encoder
}

// New returns a serializer. Non-positive limits select the defaults.
func New(maxDepth, maxByteLength int) *Serializer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxByteLength <= 0 {
		maxByteLength = DefaultMaxByteLength
	}
	return &Serializer{
		maxDepth:      maxDepth,
		maxByteLength: maxByteLength,
		encoders:      make(map[reflect.Type]Encoder),
	}
}

// Register installs enc for values whose dynamic type is exactly t.
func (s *Serializer) Register(t reflect.Type, enc Encoder) {
	s.mu.Lock()
	s.encoders[t] = enc
	s.mu.Unlock()
}

func (s *Serializer) encoder(t reflect.Type) Encoder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encoders[t]
}

// Serialize encodes v keeping scalars typed.
func (s *Serializer) Serialize(v any) (out any) {
	return s.run(v, false)
}

// Represent encodes v with every leaf rendered as a printable string. It is
// used for frame variables.
func (s *Serializer) Represent(v any) (out any) {
	return s.run(v, true)
}

func (s *Serializer) run(v any, represent bool) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = Unserializable
		}
	}()
	w := walker{
		Serializer: s,
		represent:  represent,
		visiting:   make(map[uintptr]struct{}),
	}
	return w.value(reflect.ValueOf(v), 0)
}

type walker struct {
	*Serializer
	represent bool
	// visiting holds the pointers on the current path from the root.
	visiting map[uintptr]struct{}
}

func (w *walker) value(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return w.leaf(nil)
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return w.leaf(nil)
		}
		return w.value(v.Elem(), depth)
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return w.leaf(nil)
		}
	}

	t := v.Type()
	if v.CanInterface() {
		if enc := w.encoder(t); enc != nil {
			out, err := call(func() (any, error) { return enc(v.Interface()) })
			if !errors.Is(err, ErrSkip) {
				return w.object(t, out, err, depth)
			}
		}
		if t.Implements(serializableType) {
			out, err := call(func() (any, error) { return v.Interface().(Serializable).SerializeForSentry() })
			return w.object(t, out, err, depth)
		}
		if t.Implements(errorType) {
			out, err := call(func() (any, error) { return v.Interface().(error).Error(), nil })
			if err != nil {
				return objectPlaceholder(t)
			}
			return w.leaf(out)
		}
		if t == timeType {
			return w.leaf(v.Interface().(time.Time).Format(time.RFC3339Nano))
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		ptr := v.Pointer()
		if _, ok := w.visiting[ptr]; ok {
			return objectPlaceholder(t.Elem()) + " (cycle)"
		}
		w.visiting[ptr] = struct{}{}
		defer delete(w.visiting, ptr)
		return w.value(v.Elem(), depth)

	case reflect.Bool:
		return w.leaf(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return w.leaf(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return w.leaf(v.Uint())
	case reflect.Float32, reflect.Float64:
		return w.leaf(v.Float())
	case reflect.Complex64, reflect.Complex128:
		return w.leaf(fmt.Sprint(v.Complex()))
	case reflect.String:
		return w.leaf(v.String())

	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 && v.Kind() == reflect.Slice {
			return w.leaf(bytesToString(v.Bytes()))
		}
		if depth >= w.maxDepth {
			return fmt.Sprintf("Array of length %d", v.Len())
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = w.value(v.Index(i), depth+1)
		}
		return out

	case reflect.Map:
		if depth >= w.maxDepth {
			return fmt.Sprintf("Array of length %d", v.Len())
		}
		ptr := v.Pointer()
		if _, ok := w.visiting[ptr]; ok {
			return objectPlaceholder(t) + " (cycle)"
		}
		w.visiting[ptr] = struct{}{}
		defer delete(w.visiting, ptr)
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[w.mapKey(iter.Key())] = w.value(iter.Value(), depth+1)
		}
		return out

	case reflect.Struct:
		if depth >= w.maxDepth {
			return objectPlaceholder(t)
		}
		fields := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			fields[f.Name] = w.value(v.Field(i), depth+1)
		}
		return map[string]any{"class": t.String(), "data": fields}

	default:
		// chan, func, unsafe.Pointer
		return "Resource " + t.String()
	}
}

// object wraps the result of a custom encoder.
func (w *walker) object(t reflect.Type, out any, err error, depth int) any {
	if err != nil {
		return objectPlaceholder(t)
	}
	if depth >= w.maxDepth {
		return objectPlaceholder(t)
	}
	return map[string]any{
		"class": t.String(),
		"data":  w.value(reflect.ValueOf(out), depth+1),
	}
}

func (w *walker) mapKey(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return Truncate(k.String(), w.maxByteLength)
	case reflect.Interface:
		if !k.IsNil() {
			return w.mapKey(k.Elem())
		}
	}
	if k.CanInterface() {
		return Truncate(fmt.Sprint(k.Interface()), w.maxByteLength)
	}
	return k.Type().String()
}

// leaf encodes a scalar.
func (w *walker) leaf(v any) any {
	if w.represent {
		return w.representLeaf(v)
	}
	switch x := v.(type) {
	case string:
		return Truncate(x, w.maxByteLength)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return v
}

func (w *walker) representLeaf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return Truncate(x, w.maxByteLength)
	default:
		return Truncate(fmt.Sprint(x), w.maxByteLength)
	}
}

// formatFloat always shows a decimal point for finite values: 1 -> "1.0".
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e15) {
		format = 'g'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	return s + ".0"
}

func objectPlaceholder(t reflect.Type) string {
	return "Object " + t.String()
}

// call runs fn, converting a panic into an error.
func call(fn func() (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serializer: recovered panic: %v", r)
		}
	}()
	return fn()
}
