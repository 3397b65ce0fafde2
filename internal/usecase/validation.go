package usecase

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	letterPattern = regexp.MustCompile(`[A-Za-z]`)
	digitPattern  = regexp.MustCompile(`\d`)
)

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country"`
}

func isValidEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

func isValidPassword(pw string) bool {
	n := utf8.RuneCountInString(pw)
	return n >= 8 && n <= 128 && letterPattern.MatchString(pw) && digitPattern.MatchString(pw)
}

func isValidName(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= 1 && n <= 100
}

func ValidateRegister(in RegisterInput) error {
	fields := map[string]string{}
	if !isValidEmail(in.Email) {
		fields["email"] = "Invalid email"
	}
	if !isValidPassword(in.Password) {
		fields["password"] = "Weak password: min 8 chars, include letters and digits"
	}
	if !isValidName(in.FirstName) {
		fields["first_name"] = "First name is required"
	}
	if !isValidName(in.LastName) {
		fields["last_name"] = "Last name is required"
	}
	if !isValidName(in.Country) {
		fields["country"] = "Country is required"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Message: "Validation failed", Fields: fields}
	}
	return nil
}

func ValidateLogin(in LoginInput) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Email) == "" {
		fields["email"] = "Email is required"
	}
	if in.Password == "" {
		fields["password"] = "Password is required"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Message: "Email and password are required", Fields: fields}
	}
	return nil
}

func ValidateProfile(in ProfileInput) error {
	fields := map[string]string{}
	if !isValidName(in.FirstName) {
		fields["first_name"] = "First name is required"
	}
	if !isValidName(in.LastName) {
		fields["last_name"] = "Last name is required"
	}
	if !isValidName(in.Country) {
		fields["country"] = "Country is required"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Message: "Validation failed", Fields: fields}
	}
	return nil
}
