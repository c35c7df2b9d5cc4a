package validator

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Email:    "alice@example.com",
		Password: "Abcd1234",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Email:    "invalid",
		Password: "weak",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestPasswordRule(t *testing.T) {
	type creds struct {
		Password string `validate:"password"`
	}

	valid := []string{"Abcd1234", "Str0ngPassword", "xxxxxxX1"}
	for _, p := range valid {
		if err := ValidateStruct(creds{Password: p}); err != nil {
			t.Fatalf("expected %q to pass, got %v", p, err)
		}
	}

	invalid := []string{
		"Ab1",        // too short
		"abcd1234",   // no uppercase
		"Abcdefgh",   // no digit
		"Abcd 1234",  // whitespace
		"Abcd\t1234", // whitespace
		"A1" + strings.Repeat("x", 71), // over the bcrypt 72-byte limit
	}
	for _, p := range invalid {
		if err := ValidateStruct(creds{Password: p}); err == nil {
			t.Fatalf("expected %q to fail validation", p)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("accountd", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "accountd"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"accountd"`
	}

	if err := ValidateStruct(custom{Value: "accountd"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
