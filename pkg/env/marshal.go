// Package env writes config structs tagged for caarlos0/env back out as
// .env file content.
package env

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// MarshalEnv reflects over the struct pointed to by c and renders one
// KEY=value line per env-tagged field whose value differs from its
// envDefault. Zero values without a default are left out too, so the
// output round-trips through env.Parse.
func MarshalEnv(c any) (string, error) {
	return marshal(c, false)
}

// MarshalEnvAll is MarshalEnv that also writes fields still at their
// default, giving a complete template to edit.
func MarshalEnvAll(c any) (string, error) {
	return marshal(c, true)
}

func marshal(c any, all bool) (string, error) {
	v := reflect.ValueOf(c)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return "", errors.New("env: MarshalEnv needs a non-nil struct pointer")
	}
	v = v.Elem()
	t := v.Type()

	var lines []string
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("env")

		if tag == "" || !field.IsExported() {
			continue
		}

		// "KEY,required,notEmpty" or "KEY"
		key := strings.Split(tag, ",")[0]
		if key == "" {
			continue
		}

		val := v.Field(i)
		strVal, err := formatValue(val, field.Tag.Get("envSeparator"))
		if err != nil {
			return "", fmt.Errorf("env: field %s: %w", field.Name, err)
		}

		def, hasDefault := field.Tag.Lookup("envDefault")
		switch {
		case hasDefault && strVal == def && !all:
			continue
		case !hasDefault && isZeroValue(val):
			continue
		}

		lines = append(lines, fmt.Sprintf("%s=%s", key, quote(strVal)))
	}

	result := strings.Join(lines, "\n")
	if result != "" {
		result += "\n"
	}
	return result, nil
}

func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

func formatValue(v reflect.Value, sep string) (string, error) {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Slice:
		if sep == "" {
			sep = ","
		}
		parts := make([]string, v.Len())
		for i := range parts {
			s, err := formatValue(v.Index(i), sep)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil
	default:
		return "", fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

// quote wraps values godotenv would otherwise cut at whitespace or '#'.
func quote(s string) string {
	if s == "" || !strings.ContainsAny(s, " \t#\"'\n\\") {
		return s
	}
	return strconv.Quote(s)
}
