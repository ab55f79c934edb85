package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/powerwalker/pwalk/pkg/config"
)

func configureCmd(t *Term, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments to \"config\"")
	}
	switch args[0] {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	}
	if err := configureSet(t, args); err != nil {
		return err
	}
	return t.applyConfig(args[0])
}

type configureIterator struct {
	cfgValue reflect.Value
	cfgType  reflect.Type
	i        int
}

func iterateConfiguration(conf *config.Config) *configureIterator {
	cfgValue := reflect.ValueOf(conf).Elem()
	cfgType := cfgValue.Type()

	return &configureIterator{cfgValue, cfgType, -1}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < it.cfgValue.NumField()
}

func (it *configureIterator) Field() (name string, field reflect.Value) {
	name = it.cfgType.Field(it.i).Tag.Get("yaml")
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.cfgValue.Field(it.i)
	return
}

func configureFindFieldByName(conf *config.Config, name string) reflect.Value {
	it := iterateConfiguration(conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	it := iterateConfiguration(t.conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" || fieldName == "aliases" {
			continue
		}

		switch {
		case field.Kind() == reflect.Ptr && field.IsNil():
			fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		case field.Kind() == reflect.Ptr:
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field.Elem())
		case field.Kind() == reflect.Slice:
			fmt.Fprintf(w, "%s\t%s\n", fieldName, strings.Join(field.Interface().([]string), ","))
		case field.Kind() == reflect.String:
			fmt.Fprintf(w, "%s\t%q\n", fieldName, field.String())
		default:
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
		}
	}
	return w.Flush()
}

func configureSet(t *Term, args []string) error {
	cfgname := args[0]
	rest := args[1:]

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	field := configureFindFieldByName(t.conf, cfgname)
	if !field.CanAddr() || cfgname == "aliases" {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}
	if len(rest) != 1 {
		return fmt.Errorf("wrong number of arguments to \"config %s\"", cfgname)
	}
	arg := rest[0]

	simpleArg := func(typ reflect.Type) (reflect.Value, error) {
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(arg)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number", cfgname)
			}
			if n < 0 {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
			}
			return reflect.ValueOf(&n), nil
		case reflect.Bool:
			v := arg == "true"
			return reflect.ValueOf(&v), nil
		case reflect.String:
			return reflect.ValueOf(&arg), nil
		case reflect.Slice:
			var v []string
			if arg != "" {
				v = strings.Split(arg, ",")
			}
			return reflect.ValueOf(&v), nil
		default:
			return reflect.ValueOf(nil), fmt.Errorf("unsupported type for configuration key %q", cfgname)
		}
	}

	if field.Kind() == reflect.Ptr {
		val, err := simpleArg(field.Type().Elem())
		if err != nil {
			return err
		}
		field.Set(val)
	} else {
		val, err := simpleArg(field.Type())
		if err != nil {
			return err
		}
		field.Set(val.Elem())
	}
	return nil
}

func configureSetAlias(t *Term, argv []string) error {
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
