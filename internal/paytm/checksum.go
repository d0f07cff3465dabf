// Package paytm инкапсулирует взаимодействие с платёжным шлюзом Paytm:
// подпись запросов, нормализацию callback-уведомлений и HTTP-клиент
// инициализации транзакций.
package paytm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// CanonicalBody возвращает детерминированное представление подписываемых полей:
// ключи приводятся к верхнему регистру и сериализуются в компактный JSON.
// json.Marshal сортирует ключи карты, поэтому порядок полей на входе
// не влияет на результат.
func CanonicalBody(fields map[string]string) []byte {
	upper := make(map[string]string, len(fields))
	for k, v := range fields {
		upper[strings.ToUpper(k)] = v
	}

	body, _ := json.Marshal(upper)
	return body
}

// Sign вычисляет контрольную сумму HMAC-SHA256 над канонической формой полей.
func Sign(fields map[string]string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(CanonicalBody(fields))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify пересчитывает контрольную сумму над канонической формой полей
// и сравнивает её с полученной за константное время.
func Verify(fields map[string]string, key []byte, checksum string) bool {
	expected, err := hex.DecodeString(checksum)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(CanonicalBody(fields))

	return hmac.Equal(mac.Sum(nil), expected)
}
