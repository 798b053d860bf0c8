// Package flags builds browser command lines from flag maps.
//
// A launch is described as a map from switch name (without the leading
// dashes) to value, so defaults, configured extras and per-call overrides
// can be merged before the argument list is rendered.
package flags

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Flags maps a switch name to its value:
//   - string renders as --name=value
//   - bool true renders as --name; false drops the switch
//   - []string renders one --name=v per element, or a single comma-joined
//     --name=v1,v2 for the feature-list switches
type Flags map[string]any

// ErrInvalidFlagValue is returned when a flag value has an unsupported type.
var ErrInvalidFlagValue = errors.New("invalid flag value type")

// listSwitches are read by the browser as one comma-separated value; when
// repeated, only the last occurrence counts. Their values accumulate across
// Merge instead of being replaced.
var listSwitches = map[string]bool{
	"enable-features":        true,
	"disable-features":       true,
	"enable-blink-features":  true,
	"disable-blink-features": true,
}

func normalize(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "-")
}

// FromConfig converts the browser.flags config map. Numbers become decimal
// strings and YAML lists ([]any) must hold only strings.
func FromConfig(cfg map[string]any) (Flags, error) {
	f := make(Flags, len(cfg))
	for name, v := range cfg {
		name = normalize(name)

		switch val := v.(type) {
		case string:
			f.add(name, val)
		case bool, []string:
			f[name] = val
		case int:
			f[name] = strconv.Itoa(val)
		case int64:
			f[name] = strconv.FormatInt(val, 10)
		case float64:
			f[name] = strconv.FormatFloat(val, 'f', -1, 64)
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s list holds %T", ErrInvalidFlagValue, name, item)
				}
				items = append(items, s)
			}
			f[name] = items
		default:
			return nil, fmt.Errorf("%w: %s is %T", ErrInvalidFlagValue, name, v)
		}
	}
	return f, nil
}

// Parse reads switches in command-line form ("--name", "--name=value", with
// or without dashes). "true"/"false" values become booleans, a repeated
// name collects its values, and the value is everything after the first '='.
func Parse(args []string) Flags {
	f := make(Flags)
	for _, arg := range args {
		name, value, hasValue := strings.Cut(normalize(arg), "=")
		if name == "" {
			continue
		}
		if !hasValue {
			f[name] = true
			continue
		}
		if lv := strings.ToLower(value); lv == "true" || lv == "false" {
			f[name] = lv == "true"
			continue
		}
		f.add(name, value)
	}
	return f
}

// add records a string value, collecting repeats into a slice. List
// switches are split on commas.
func (f Flags) add(name, value string) {
	var values []string
	if listSwitches[name] {
		values = splitList(value)
	} else {
		values = []string{value}
	}

	switch existing := f[name].(type) {
	case string:
		f[name] = append([]string{existing}, values...)
	case []string:
		f[name] = append(existing, values...)
	default:
		if len(values) == 1 && !listSwitches[name] {
			f[name] = values[0]
		} else {
			f[name] = values
		}
	}
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Merge returns base overlaid with override; neither input is modified.
// Override replaces a switch, except list switches, whose values are
// appended without duplicates.
func Merge(base, override Flags) Flags {
	f := make(Flags, len(base)+len(override))
	for name, v := range base {
		f[name] = v
	}
	for name, v := range override {
		if listSwitches[name] {
			if merged, ok := mergeList(f[name], v); ok {
				f[name] = merged
				continue
			}
		}
		f[name] = v
	}
	return f
}

func mergeList(a, b any) ([]string, bool) {
	as, aok := asList(a)
	bs, bok := asList(b)
	if !aok || !bok {
		return nil, false
	}
	out := slices.Clone(as)
	for _, item := range bs {
		if !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	return out, true
}

func asList(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return splitList(val), true
	case []string:
		return val, true
	}
	return nil, false
}

// Without returns a copy of f minus the named switches.
func Without(f Flags, names ...string) Flags {
	out := Merge(f, nil)
	for _, name := range names {
		delete(out, normalize(name))
	}
	return out
}

// ToArgs renders f as browser arguments, sorted by switch name.
func ToArgs(f Flags) []string {
	if len(f) == 0 {
		return nil
	}

	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)

	var args []string
	for _, name := range names {
		switch val := f[name].(type) {
		case string:
			args = append(args, "--"+name+"="+val)
		case bool:
			if val {
				args = append(args, "--"+name)
			}
		case []string:
			if listSwitches[name] {
				if len(val) > 0 {
					args = append(args, "--"+name+"="+strings.Join(val, ","))
				}
				continue
			}
			for _, v := range val {
				args = append(args, "--"+name+"="+v)
			}
		}
	}
	return args
}
