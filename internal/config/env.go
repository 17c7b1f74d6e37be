package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

var envReplacer = strings.NewReplacer(".", "_")

// bindEnv registers every mapstructure key so Unmarshal sees environment
// overrides even for keys absent from the config file.
func bindEnv(v *viper.Viper) {
	for _, key := range keys(reflect.TypeOf(Config{}), "") {
		_ = v.BindEnv(key)
	}
}

func keys(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			out = append(out, keys(f.Type, name)...)
			continue
		}
		out = append(out, name)
	}
	return out
}
