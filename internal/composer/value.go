package composer

import (
	"reflect"
	"strconv"
	"strings"
)

const prevToken = "$prev"

// value is a compiled step input. Strings equal to "$prev" or starting
// with "$prev." become references to the previous step's output; every
// other leaf is a literal.
type value interface {
	resolve(prev any, hasPrev bool) any
}

type literal struct{ v any }

func (l literal) resolve(any, bool) any { return l.v }

type prevRef struct {
	raw  string
	path []string
}

func (r prevRef) resolve(prev any, hasPrev bool) any {
	if !hasPrev {
		return r.raw
	}
	return lookupPath(prev, r.path)
}

type object map[string]value

func (o object) resolve(prev any, hasPrev bool) any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.resolve(prev, hasPrev)
	}
	return out
}

type array []value

func (a array) resolve(prev any, hasPrev bool) any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = v.resolve(prev, hasPrev)
	}
	return out
}

// compile turns decoded JSON/YAML data into a value tree.
func compile(v any) value {
	switch t := v.(type) {
	case string:
		if t == prevToken {
			return prevRef{raw: t}
		}
		if rest, ok := strings.CutPrefix(t, prevToken+"."); ok && rest != "" {
			return prevRef{raw: t, path: strings.Split(rest, ".")}
		}
		return literal{t}
	case map[string]any:
		o := make(object, len(t))
		for k, child := range t {
			o[k] = compile(child)
		}
		return o
	case []any:
		a := make(array, len(t))
		for i, child := range t {
			a[i] = compile(child)
		}
		return a
	}
	return literal{v}
}

// compileObject compiles a step's static input.
func compileObject(in map[string]any) object {
	o := make(object, len(in))
	for k, v := range in {
		o[k] = compile(v)
	}
	return o
}

// lookupPath walks a dotted path through maps and []any (numeric keys). A missing
// segment yields nil.
func lookupPath(v any, path []string) any {
	cur := v
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			rv := reflect.ValueOf(cur)
			if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
			if !mv.IsValid() {
				return nil
			}
			cur = mv.Interface()
		}
	}
	return cur
}

// Substitute resolves "$prev" references in input against prev. It is the
// same evaluator the composer uses for each step.
func Substitute(input map[string]any, prev any) map[string]any {
	return compileObject(input).resolve(prev, true).(map[string]any)
}
