package web

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	e164Pattern     = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

type claimRequestBody struct {
	Username     string `json:"username" validate:"required,min=3,max=32,claim_username"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
	WANumberE164 string `json:"wa_number_e164" validate:"required,claim_e164"`
	Template     string `json:"template" validate:"required,claim_template"`
}

type claimValidator struct {
	validate *validator.Validate
}

// newClaimValidator registers the claim rules; templates is the set of names
// the claim_template tag accepts.
func newClaimValidator(templates []string) *claimValidator {
	allowed := make(map[string]bool, len(templates))
	for _, name := range templates {
		allowed[name] = true
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("claim_username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("claim_e164", func(fl validator.FieldLevel) bool {
		return e164Pattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("claim_template", func(fl validator.FieldLevel) bool {
		return allowed[fl.Field().String()]
	})
	return &claimValidator{validate: v}
}

func (c *claimValidator) Struct(body any) error {
	return c.validate.Struct(body)
}

// fieldErrors maps each failing JSON field to a readable reason.
func fieldErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = describe(fe)
	}
	return details
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "claim_username":
		return "may only contain letters, digits, '_' and '-'"
	case "claim_e164":
		return "must be an E.164 number such as +6281234567890"
	case "claim_template":
		return "is not an available template"
	default:
		return "failed on " + fe.Tag()
	}
}
