package session

import (
	"github.com/go-playground/validator/v10"

	"github.com/mzalendo/darasa/core"
)

var (
	contentTypeTag  = "contenttype"
	contentTypeText = "invalid content type"

	accessLevelTag  = "accesslevel"
	accessLevelText = "access level must be one of: free, premium"

	statusTag  = "sessionstatus"
	statusText = "status must be one of: draft, published, archived"
)

// register custom validators
func init() {
	_ = core.Validate.RegisterValidation(contentTypeTag, contentTypeValidation)
	core.RegisterCustomTranslation(core.Validate, core.Translator, contentTypeTag, contentTypeText)

	_ = core.Validate.RegisterValidation(accessLevelTag, accessLevelValidation)
	core.RegisterCustomTranslation(core.Validate, core.Translator, accessLevelTag, accessLevelText)

	_ = core.Validate.RegisterValidation(statusTag, statusValidation)
	core.RegisterCustomTranslation(core.Validate, core.Translator, statusTag, statusText)
}

// Custom Validators

// contentTypeValidation checks that the value is a known ContentType.
func contentTypeValidation(fl validator.FieldLevel) bool {
	v := ContentType(fl.Field().String())
	for _, t := range ContentTypes {
		if v == t {
			return true
		}
	}
	return false
}

func accessLevelValidation(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == AccessFree || v == AccessPremium
}

func statusValidation(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == StatusDraft || v == StatusPublished || v == StatusArchived
}
