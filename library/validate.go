package library

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Registration is the input of Register.
type Registration struct {
	Username string `validate:"required,alphanum,min=3,max=32"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// Accepted payment methods.
const (
	PaymentVisa       = "Visa Card"
	PaymentMasterCard = "MasterCard"
	PaymentDahabia    = "Carte El-Dahabia"
)

// PaymentMethods lists the accepted payment methods in display order.
var PaymentMethods = []string{PaymentVisa, PaymentMasterCard, PaymentDahabia}

// CardDetails is what the payment form collects.
type CardDetails struct {
	Method         string `validate:"required,oneof='Visa Card' 'MasterCard' 'Carte El-Dahabia'"`
	Holder         string `validate:"required"`
	Number         string `validate:"required,numeric,min=13,max=19"`
	Expiry         string `validate:"required,card_expiry"`
	CVV            string `validate:"required,numeric,min=3,max=4"`
	BillingAddress string
}

var expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Dates validate as their text form so that `required` rejects the zero day.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Date); ok {
			return d.String()
		}
		return nil
	}, Date{})
	_ = v.RegisterValidation("card_expiry", func(fl validator.FieldLevel) bool {
		return expiryPattern.MatchString(fl.Field().String())
	})
	return v
}

func validateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
