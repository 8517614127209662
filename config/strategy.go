package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"twstock-screener/internal/strategy"
)

// LoadStrategy reads strategy thresholds from a YAML (or JSON) file.
//
// Keys are the yaml tags of strategy.Config. Each present key is coerced
// to the field's type; numeric strings and 0/1 booleans are accepted. A
// missing or uncoercible key keeps its default. An empty path returns the
// defaults. The result is validated.
func LoadStrategy(path string) (strategy.Config, error) {
	cfg := strategy.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := ApplyStrategy(&cfg, data); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ApplyStrategy overlays the keys in data onto cfg.
func ApplyStrategy(cfg *strategy.Config, data []byte) error {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	known := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		known[key] = true
		val, ok := raw[key]
		if !ok || val == nil {
			continue
		}
		if err := coerce(v.Field(i), val); err != nil {
			log.Printf("[config] %s: %v; keeping default %v", key, err, v.Field(i).Interface())
		}
	}
	for key := range raw {
		if !known[key] {
			log.Printf("[config] ignoring unknown key %q", key)
		}
	}
	return nil
}

func coerce(field reflect.Value, val any) error {
	switch field.Kind() {
	case reflect.Int:
		f, err := toFloat(val)
		if err != nil {
			return err
		}
		if f != float64(int64(f)) {
			return fmt.Errorf("not an integer: %v", val)
		}
		field.SetInt(int64(f))
	case reflect.Float64:
		f, err := toFloat(val)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := toBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func toFloat(val any) (float64, error) {
	switch x := val.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", val)
}

func toBool(val any) (bool, error) {
	switch x := val.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", x)
		}
		return b, nil
	}
	return false, fmt.Errorf("not a boolean: %v", val)
}
