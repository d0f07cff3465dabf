// Package validation содержит функции валидации входных данных.
package validation

import (
	"math"
	"strings"
	"unicode"
)

// IsValidAmount проверяет, что сумма является конечным положительным числом.
func IsValidAmount(amount float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	return amount > 0
}

// IsValidMobileNumber проверяет, что номер телефона состоит ровно из 10 цифр.
func IsValidMobileNumber(number string) bool {
	return isDigits(number, 10)
}

// IsValidEmail выполняет минимальную проверку адреса электронной почты.
func IsValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}

func isDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
