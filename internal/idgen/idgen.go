// Package idgen содержит генераторы идентификаторов заказов и институтов.
package idgen

import (
	"fmt"
	"math/rand"
	"time"
)

// OrderIDPrefix — префикс идентификаторов платёжных заказов.
const OrderIDPrefix = "MSH"

const instituteIDLength = 12

const instituteIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderID возвращает идентификатор заказа вида MSH-<millis>-<random>.
// Комбинация метки времени в миллисекундах и случайного суффикса делает
// коллизии практически невозможными без обращения к хранилищу, поэтому
// генератор не имеет ошибок и не проверяет уникальность.
func NewOrderID() string {
	return fmt.Sprintf("%s-%d-%d", OrderIDPrefix, time.Now().UnixMilli(), rand.Int63n(1_000_000_000_000))
}

// NewInstituteID возвращает 12-символьный идентификатор института из заглавных
// букв и цифр. В отличие от идентификатора заказа, уникальность этого значения
// проверяется вызывающей стороной по хранилищу.
func NewInstituteID() string {
	b := make([]byte, instituteIDLength)
	for i := range b {
		b[i] = instituteIDChars[rand.Intn(len(instituteIDChars))]
	}
	return string(b)
}
