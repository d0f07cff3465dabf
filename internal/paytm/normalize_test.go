package paytm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackFields() map[string]string {
	return map[string]string{
		"ORDERID":   "MSH-1700000000000-42",
		"STATUS":    "TXN_SUCCESS",
		"TXNID":     "T100",
		"BANKTXNID": "B200",
		"RESPCODE":  "01",
		"RESPMSG":   "Txn Success",
	}
}

func TestNormalizeCallback_Envelope(t *testing.T) {
	fields := callbackFields()
	sum := Sign(fields, testKey)

	body := make(map[string]any, len(fields))
	for k, v := range fields {
		body[k] = v
	}

	payload := map[string]any{
		"head": map[string]any{"signature": sum},
		"body": body,
	}

	data, err := NormalizeCallback(payload)
	require.NoError(t, err)

	assert.Equal(t, "MSH-1700000000000-42", data.OrderID)
	assert.Equal(t, sum, data.Checksum)
	assert.Equal(t, fields, data.Fields)
	assert.True(t, Verify(data.Fields, testKey, data.Checksum))
}

func TestNormalizeCallback_StringEncodedEnvelope(t *testing.T) {
	fields := callbackFields()
	sum := Sign(fields, testKey)

	body := make(map[string]any, len(fields))
	for k, v := range fields {
		body[k] = v
	}

	encoded, err := json.Marshal(map[string]any{
		"head": map[string]any{"signature": sum},
		"body": body,
	})
	require.NoError(t, err)

	payload := map[string]any{
		"response": string(encoded),
	}

	data, err := NormalizeCallback(payload)
	require.NoError(t, err)

	assert.Equal(t, "MSH-1700000000000-42", data.OrderID)
	assert.Equal(t, sum, data.Checksum)
	assert.Equal(t, fields, data.Fields)
}

func TestNormalizeCallback_FlatForm(t *testing.T) {
	fields := callbackFields()
	sum := Sign(fields, testKey)

	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["CHECKSUMHASH"] = sum

	data, err := NormalizeCallback(payload)
	require.NoError(t, err)

	assert.Equal(t, "MSH-1700000000000-42", data.OrderID)
	assert.Equal(t, sum, data.Checksum)
	assert.Equal(t, fields, data.Fields)
	assert.NotContains(t, data.Fields, FieldChecksumHash)
}

// Все три распознаваемые формы с одинаковыми значениями полей должны давать
// идентичную каноническую запись.
func TestNormalizeCallback_ShapesAgree(t *testing.T) {
	fields := callbackFields()
	sum := Sign(fields, testKey)

	body := make(map[string]any, len(fields))
	for k, v := range fields {
		body[k] = v
	}

	envelope := map[string]any{
		"head": map[string]any{"signature": sum},
		"body": body,
	}

	encoded, err := json.Marshal(envelope)
	require.NoError(t, err)

	flat := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		flat[k] = v
	}
	flat["CHECKSUMHASH"] = sum

	shapes := []map[string]any{
		envelope,
		{"payload": string(encoded)},
		flat,
	}

	var first *CallbackData
	for i, shape := range shapes {
		data, err := NormalizeCallback(shape)
		require.NoError(t, err, "shape %d", i)

		if first == nil {
			first = data
			continue
		}
		assert.Equal(t, first, data, "shape %d", i)
	}
}

func TestNormalizeCallback_MixedCaseKeys(t *testing.T) {
	fields := callbackFields()
	sum := Sign(fields, testKey)

	payload := map[string]any{
		"OrderId":      "MSH-1700000000000-42",
		"Status":       "TXN_SUCCESS",
		"TxnId":        "T100",
		"BankTxnId":    "B200",
		"RespCode":     "01",
		"RespMsg":      "Txn Success",
		"ChecksumHash": sum,
	}

	data, err := NormalizeCallback(payload)
	require.NoError(t, err)

	assert.Equal(t, fields, data.Fields)
	assert.True(t, Verify(data.Fields, testKey, data.Checksum))
}

func TestNormalizeCallback_Unrecognized(t *testing.T) {
	payloads := []map[string]any{
		{},
		{"foo": "bar"},
		{"ORDERID": "MSH-1-1"},
		{"CHECKSUMHASH": "abc"},
		{"head": map[string]any{}, "body": map[string]any{"ORDERID": "MSH-1-1"}},
		{"payload": "{not-json"},
	}

	for i, payload := range payloads {
		_, err := NormalizeCallback(payload)
		require.ErrorIs(t, err, ErrUnknownPayload, "payload %d", i)
	}
}
