package bootconfig

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gravwell/gcfg"
)

const (
	maxConfigSize int64 = 1 * mb // boot loaders hand over small blobs
)

var (
	ErrConfigTooLarge         = errors.New("Config blob is too large")
	ErrInvalidImportParameter = errors.New("parameter is not a pointer")
	ErrInvalidArgument        = errors.New("Invalid argument")
	ErrInvalidMapValueType    = errors.New("invalid map value type, must be pointer to struct")
	ErrBadMap                 = errors.New("VariableConfig has not been initialized")
)

// VariableConfig captures a config section whose parameter set is not
// known ahead of time (e.g. a device adapter's tuning section) so the
// adapter can pull typed values out after the parse.
type VariableConfig struct {
	gcfg.Idxer
	Vals map[gcfg.Idx]*[]string
}

// LoadConfigBytes parses the contents of b into the given interface v.
func LoadConfigBytes(v interface{}, b []byte) error {
	if int64(len(b)) > maxConfigSize {
		return ErrConfigTooLarge
	}
	return gcfg.ReadStringInto(v, string(b))
}

// MapTo maps the section's parameters onto the fields of the struct
// pointed to by v, matching field names with underscores swapped for
// dashes the way the INI dialect spells them.
func (vc VariableConfig) MapTo(v interface{}) (err error) {
	if vc.Vals == nil {
		err = ErrBadMap
	} else if v == nil {
		err = ErrInvalidImportParameter
	} else if reflect.ValueOf(v).Kind() != reflect.Ptr {
		return ErrInvalidImportParameter
	} else {
		err = vc.mapStruct(v)
	}
	return
}

func (vc VariableConfig) get(name string) (v string, ok bool) {
	var temp *[]string
	if temp = vc.Vals[vc.Idx(name)]; temp != nil {
		var x []string
		x = *temp
		if len(x) > 0 {
			v = x[0]
			ok = true
		}
	}
	return
}

func (vc VariableConfig) getSlice(name string) (v []string, ok bool) {
	var temp *[]string
	if temp = vc.Vals[vc.Idx(name)]; temp != nil {
		v = *temp
		ok = true
	}
	return
}

func (vc VariableConfig) mapStruct(v interface{}) error {
	if reflect.ValueOf(v).Kind() != reflect.Ptr {
		return ErrInvalidImportParameter
	}
	// ensure the value is a pointer to a struct
	rv := reflect.ValueOf(v).Elem()
	if rv.Type().Kind() != reflect.Struct {
		return ErrInvalidMapValueType
	}
	typeOf := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		if err := vc.setField(typeOf.Field(i).Name, rv.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func (vc VariableConfig) setField(name string, v reflect.Value) (err error) {
	strv, ok := vc.get(nameMapper(name))
	if !ok {
		return
	}
	switch v.Type().Kind() {
	case reflect.Int8:
		fallthrough
	case reflect.Int16:
		fallthrough
	case reflect.Int32:
		fallthrough
	case reflect.Int64:
		fallthrough
	case reflect.Int:
		var vint int64
		if vint, err = ParseInt64(strv); err == nil {
			if v.OverflowInt(vint) {
				err = fmt.Errorf("%d overflows %T", vint, v.Interface())
			} else {
				v.SetInt(vint)
			}
		}
	case reflect.Uint8:
		fallthrough
	case reflect.Uint16:
		fallthrough
	case reflect.Uint32:
		fallthrough
	case reflect.Uint64:
		fallthrough
	case reflect.Uint:
		var vint uint64
		if vint, err = ParseUint64(strv); err == nil {
			if v.OverflowUint(vint) {
				err = fmt.Errorf("%d overflows %T", vint, v.Interface())
			} else {
				v.SetUint(vint)
			}
		}
	case reflect.Float32:
		fallthrough
	case reflect.Float64:
		var vf float64
		if vf, err = strconv.ParseFloat(strv, 64); err == nil {
			if v.OverflowFloat(vf) {
				err = fmt.Errorf("%f overflows %T", vf, v.Interface())
			} else {
				v.SetFloat(vf)
			}
		}
	case reflect.Bool:
		var vb bool
		if vb, err = ParseBool(strv); err == nil {
			v.SetBool(vb)
		}
	case reflect.String:
		v.SetString(strv)
	case reflect.Slice:
		slc, ok := vc.getSlice(nameMapper(name))
		if !ok {
			return
		}
		v.Set(reflect.AppendSlice(v, reflect.ValueOf(slc)))
	default:
		err = fmt.Errorf("Cannot store into member %v: unknown type %T", name, v.Interface())
	}
	return
}

// just wraps setField with some type handling
func (vc VariableConfig) valueMapper(name string, v interface{}) (err error) {
	if v == nil {
		return ErrInvalidArgument
	}
	if x, ok := v.(*[]string); ok {
		if ss, ok := vc.getSlice(nameMapper(name)); ok {
			*x = ss
		}
		return
	}
	// because slices are different
	strv, ok := vc.get(nameMapper(name))
	if !ok {
		return
	}
	switch x := v.(type) {
	case *int64:
		*x, err = ParseInt64(strv)
	case *uint64:
		*x, err = ParseUint64(strv)
	case *float64:
		*x, err = strconv.ParseFloat(strv, 64)
	case *bool:
		*x, err = ParseBool(strv)
	case *string:
		*x = strv
	case *[]byte:
		*x = []byte(strv)
	default:
		err = fmt.Errorf("Cannot store into member %v: unknown type %T", name, v)
	}
	return
}

func (vc VariableConfig) GetInt(name string) (r int64, err error) {
	err = vc.valueMapper(name, &r)
	return
}

func (vc VariableConfig) GetUint(name string) (r uint64, err error) {
	err = vc.valueMapper(name, &r)
	return
}

func (vc VariableConfig) GetFloat(name string) (r float64, err error) {
	err = vc.valueMapper(name, &r)
	return
}

func (vc VariableConfig) GetBool(name string) (r bool, err error) {
	err = vc.valueMapper(name, &r)
	return
}

func (vc VariableConfig) GetString(name string) (r string, err error) {
	err = vc.valueMapper(name, &r)
	return
}

func (vc VariableConfig) GetStringSlice(name string) (r []string, err error) {
	if ss, ok := vc.getSlice(nameMapper(name)); ok {
		r = ss
	}
	return
}

func nameMapper(v string) string {
	return strings.ReplaceAll(v, "_", "-")
}
