package output

import (
	"fmt"
	"reflect"

	"github.com/pterm/pterm"
)

// PrintSettings renders a config struct as a key/value table, using the
// mapstructure tags as keys so the output matches the TOML file.
func PrintSettings(path string, cfg any) error {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("settings must be a struct, got %s", v.Kind())
	}

	data := pterm.TableData{{"Key", "Value"}}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = field.Name
		}
		data = append(data, []string{key, fmt.Sprintf("%v", v.Field(i).Interface())})
	}

	pterm.DefaultSection.Println(path)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
