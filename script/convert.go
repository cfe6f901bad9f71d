package script

import (
	"fmt"
	"maps"
	"math/big"
	"reflect"
	"slices"

	"go.starlark.net/starlark"
)

// ToStarlark converts a plain Go value into a Starlark value. Supported
// values are nil, booleans, numbers, strings, byte slices, slices and
// string-keyed maps of those.
func ToStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int8:
		return starlark.MakeInt64(int64(v)), nil
	case int16:
		return starlark.MakeInt64(int64(v)), nil
	case int32:
		return starlark.MakeInt64(int64(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint:
		return starlark.MakeUint(v), nil
	case uint8:
		return starlark.MakeUint64(uint64(v)), nil
	case uint16:
		return starlark.MakeUint64(uint64(v)), nil
	case uint32:
		return starlark.MakeUint64(uint64(v)), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float32:
		return starlark.Float(float64(v)), nil
	case float64:
		return starlark.Float(v), nil
	case *big.Int:
		return starlark.MakeBigInt(v), nil
	case big.Int:
		return starlark.MakeBigInt(&v), nil
	case []any:
		return listOf(len(v), func(i int) any { return v[i] })
	case map[string]any:
		return dictOf(slices.Sorted(maps.Keys(v)), func(k string) any { return v[k] })
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return listOf(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		return dictOf(keys, func(k string) any {
			return rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
		})
	}

	return nil, fmt.Errorf("unsupported value of type %T", v)
}

func listOf(n int, at func(int) any) (starlark.Value, error) {
	elems := make([]starlark.Value, 0, n)
	for i := range n {
		elem, err := ToStarlark(at(i))
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
	return starlark.NewList(elems), nil
}

func dictOf(keys []string, at func(string) any) (starlark.Value, error) {
	dict := starlark.NewDict(len(keys))
	for _, k := range keys {
		value, err := ToStarlark(at(k))
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), value); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// FromStarlark converts a Starlark value into a plain, JSON-representable
// Go value. Integers that do not fit in int64 become *big.Int.
func FromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.BigInt(), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Bytes:
		return string(v), nil
	case starlark.Tuple:
		return fromIterable(v)
	case *starlark.List:
		return fromIterable(v)
	case *starlark.Set:
		return fromIterable(v)
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			value, err := FromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %s is not representable", v.Type())
	}
}

func fromIterable(v starlark.Iterable) ([]any, error) {
	iter := v.Iterate()
	defer iter.Done()

	out := []any{}
	var elem starlark.Value
	for iter.Next(&elem) {
		value, err := FromStarlark(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}
