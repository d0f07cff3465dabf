package paytm

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownPayload возвращается, когда форма callback-уведомления не
// соответствует ни одной из распознаваемых.
var ErrUnknownPayload = errors.New("unrecognized callback payload")

// Поля callback-уведомления в каноническом верхнем регистре.
const (
	FieldOrderID      = "ORDERID"
	FieldChecksumHash = "CHECKSUMHASH"
	FieldStatus       = "STATUS"
	FieldTxnID        = "TXNID"
	FieldBankTxnID    = "BANKTXNID"
	FieldRespCode     = "RESPCODE"
	FieldRespMsg      = "RESPMSG"
)

// CallbackData — каноническое представление callback-уведомления шлюза,
// готовое к проверке контрольной суммы. Ключи Fields всегда в верхнем
// регистре; контрольная сумма в подписываемые поля не входит.
type CallbackData struct {
	OrderID  string
	Checksum string
	Fields   map[string]string
}

// NormalizeCallback приводит внешние формы callback-уведомления к единому
// каноническому виду. Формы пробуются по порядку, первая распознанная
// выигрывает:
//
//  1. подписанный конверт head/body;
//  2. поле со строкой, в которой закодирован такой конверт (один уровень);
//  3. плоская карта с полями ORDERID и CHECKSUMHASH.
//
// Сопоставление ключей везде регистронезависимое: шлюз меняет регистр полей
// между интеграционными окружениями.
func NormalizeCallback(payload map[string]any) (*CallbackData, error) {
	if data, ok := fromEnvelope(payload); ok {
		return data, nil
	}

	for _, key := range sortedKeys(payload) {
		s, ok := payload[key].(string)
		if !ok || !looksLikeObject(s) {
			continue
		}

		nested, err := decodeObject(s)
		if err != nil {
			continue
		}

		if data, ok := fromEnvelope(nested); ok {
			return data, nil
		}
	}

	if data, ok := fromFlatMap(payload); ok {
		return data, nil
	}

	return nil, ErrUnknownPayload
}

// fromEnvelope распознаёт конверт вида {head: {signature}, body: {...}}.
func fromEnvelope(payload map[string]any) (*CallbackData, bool) {
	headVal, ok := lookup(payload, "head")
	if !ok {
		return nil, false
	}
	head, ok := headVal.(map[string]any)
	if !ok {
		return nil, false
	}

	sigVal, ok := lookup(head, "signature")
	if !ok {
		return nil, false
	}
	checksum, ok := sigVal.(string)
	if !ok || checksum == "" {
		return nil, false
	}

	bodyVal, ok := lookup(payload, "body")
	if !ok {
		return nil, false
	}
	body, ok := bodyVal.(map[string]any)
	if !ok {
		return nil, false
	}

	fields := flattenFields(body)
	orderID := fields[FieldOrderID]
	if orderID == "" {
		return nil, false
	}

	return &CallbackData{
		OrderID:  orderID,
		Checksum: checksum,
		Fields:   fields,
	}, true
}

// fromFlatMap распознаёт плоскую карту, среди ключей которой есть
// идентификатор заказа и контрольная сумма. Контрольная сумма исключается
// из подписываемых полей.
func fromFlatMap(payload map[string]any) (*CallbackData, bool) {
	fields := flattenFields(payload)

	orderID := fields[FieldOrderID]
	checksum := fields[FieldChecksumHash]
	if orderID == "" || checksum == "" {
		return nil, false
	}

	delete(fields, FieldChecksumHash)

	return &CallbackData{
		OrderID:  orderID,
		Checksum: checksum,
		Fields:   fields,
	}, true
}

// flattenFields приводит карту произвольных значений к карте строк с ключами
// в верхнем регистре. Вложенные структуры сериализуются в компактный JSON.
func flattenFields(m map[string]any) map[string]string {
	fields := make(map[string]string, len(m))
	for k, v := range m {
		fields[strings.ToUpper(k)] = stringify(v)
	}
	return fields
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// lookup выполняет регистронезависимый поиск ключа в карте.
func lookup(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func looksLikeObject(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "{")
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
