package validation

import (
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

// Get は decimal.Decimal を数値として扱う共有バリデータを返します。
func Get() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.InexactFloat64()
			}
			return nil
		}, decimal.Decimal{})
	})
	return validate
}

// Struct は構造体タグに従って検証します。
func Struct(s interface{}) error {
	return Get().Struct(s)
}
