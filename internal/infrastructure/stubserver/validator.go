package stubserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// echoValidator wraps go-playground/validator so Echo can call c.Validate.
type echoValidator struct {
	v *validator.Validate
}

// NewValidator returns a validator ready to be assigned to echo.Echo.Validator.
func NewValidator() *echoValidator {
	return &echoValidator{v: validator.New()}
}

// Validate satisfies the echo.Validator interface. Failures map to 422 to
// match the production backend's validation status.
func (ev *echoValidator) Validate(i any) error {
	err := ev.v.Struct(i)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				msgs = append(msgs, field+" is required")
			case "email":
				msgs = append(msgs, field+" must be a valid email")
			case "min":
				msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
			case "oneof":
				msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
			default:
				msgs = append(msgs, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
			}
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, strings.Join(msgs, "; "))
	}
	return err
}
