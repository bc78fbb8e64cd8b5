package service

import (
	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/pkg/validation"
)

var inputValidator = validation.New()

type userInput struct {
	Username string `validate:"notblank,max=50"`
	Email    string `validate:"required,email,max=100"`
}

type roleInput struct {
	Name        string `validate:"notblank,max=50"`
	Description string `validate:"max=200"`
}

func validateInput(in any) error {
	if err := inputValidator.Validate(in); err != nil {
		return domain.Validationf("%s", err.Error())
	}
	return nil
}
