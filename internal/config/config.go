package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIVENODE_"

var durationType = reflect.TypeFor[time.Duration]()

// option is one settable field of a flat options struct.
type option struct {
	value reflect.Value
	flag  string
	toml  string
	env   string
}

// LoadConfig fills the flat options struct opts with precedence
// CLI > env > config file. The file path comes from the field named Config;
// fields map to the file via `toml:"section.key"` and to the environment via
// `env:"KEY"`. Flags set explicitly on cmd are never overwritten. Values
// that do not parse are reported together and leave the field unchanged.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := map[string]bool{}
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	}

	var configPath string
	var fields []option
	for i := range v.NumField() {
		sf := t.Field(i)
		if sf.Name == "Config" {
			configPath = v.Field(i).String()
			continue
		}
		o := option{value: v.Field(i), flag: flagName(sf.Name), toml: sf.Tag.Get("toml"), env: sf.Tag.Get("env")}
		if !o.value.CanSet() || changed[o.flag] {
			continue
		}
		fields = append(fields, o)
	}

	doc, err := readDocument(configPath)
	if err != nil {
		return err
	}

	var errs []error
	for _, o := range fields {
		if o.toml != "" {
			if raw := lookup(doc, o.toml); raw != nil {
				if err := assign(o.value, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", o.toml, err))
				}
			}
		}
		if o.env != "" {
			if s := os.Getenv(EnvPrefix + o.env); s != "" {
				if err := assign(o.value, s); err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, o.env, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// readDocument parses the TOML file at path. A missing file is an empty
// document.
func readDocument(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return doc, nil
}

// flagName converts a field name to its CLI flag: "LoggingLevel" becomes
// "logging-level".
func flagName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookup resolves a dotted path such as "server.port" in a TOML document.
func lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = table[key]
	}
	return cur
}

// assign stores raw into field. raw is either a TOML value or an
// environment string; lists in the environment are comma separated.
func assign(field reflect.Value, raw any) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		var items []string
		switch r := raw.(type) {
		case []any:
			for _, item := range r {
				items = append(items, fmt.Sprint(item))
			}
		case string:
			for _, item := range strings.Split(r, ",") {
				items = append(items, strings.TrimSpace(item))
			}
		default:
			return fmt.Errorf("expected a list, got %T", raw)
		}
		field.Set(reflect.ValueOf(items))
		return nil
	}

	var s string
	switch r := raw.(type) {
	case string:
		s = r
	case bool, int64, float64:
		s = fmt.Sprint(r)
	default:
		return fmt.Errorf("unsupported value %T", raw)
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(s)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.CanInt():
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.CanFloat():
		f, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
