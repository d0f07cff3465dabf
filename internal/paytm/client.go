package paytm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrGatewayRejected возвращается, когда шлюз отклонил инициализацию транзакции.
var ErrGatewayRejected = errors.New("gateway rejected transaction")

const initiateTimeout = 5 * time.Second

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	host       string
	mid        string
	website    string
	key        []byte
	httpClient *http.Client
}

// InitiateRequest описывает параметры инициализации транзакции.
type InitiateRequest struct {
	OrderID     string
	Amount      string
	CallbackURL string
	CustomerID  string
	Email       string
	Phone       string
}

// NewClient создаёт HTTP-клиент шлюза. Таймаут исходящего запроса ограничен:
// зависший шлюз не должен удерживать обработку создания заказа.
func NewClient(host, mid, website string, merchantKey []byte) *Client {
	return &Client{
		host:    strings.TrimRight(host, "/"),
		mid:     mid,
		website: website,
		key:     merchantKey,
		httpClient: &http.Client{
			Timeout: initiateTimeout,
		},
	}
}

type initiateResponse struct {
	Body struct {
		ResultInfo struct {
			ResultStatus string `json:"resultStatus"`
			ResultMsg    string `json:"resultMsg"`
		} `json:"resultInfo"`
		TxnToken string `json:"txnToken"`
	} `json:"body"`
}

// InitiateTransaction запрашивает у шлюза транзакционный токен для заказа.
// Тело запроса подписывается той же канонической формой, по которой затем
// проверяются callback-уведомления.
func (c *Client) InitiateTransaction(ctx context.Context, req InitiateRequest) (string, error) {
	if c == nil || c.host == "" {
		return "", fmt.Errorf("paytm client not configured")
	}

	body := map[string]any{
		"requestType": "Payment",
		"mid":         c.mid,
		"websiteName": c.website,
		"orderId":     req.OrderID,
		"callbackUrl": req.CallbackURL,
		"txnAmount": map[string]any{
			"value":    req.Amount,
			"currency": "INR",
		},
		"userInfo": map[string]any{
			"custId": req.CustomerID,
			"mobile": req.Phone,
			"email":  req.Email,
		},
	}

	checksum := Sign(flattenFields(body), c.key)

	payload, err := json.Marshal(map[string]any{
		"head": map[string]any{"signature": checksum},
		"body": body,
	})
	if err != nil {
		return "", fmt.Errorf("marshal initiate payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/theia/api/v1/initiateTransaction?mid=%s&orderId=%s",
		c.host, url.QueryEscape(c.mid), url.QueryEscape(req.OrderID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || result.Body.ResultInfo.ResultStatus != "S" {
		msg := result.Body.ResultInfo.ResultMsg
		if msg == "" {
			msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
	}

	if result.Body.TxnToken == "" {
		return "", fmt.Errorf("%w: empty transaction token", ErrGatewayRejected)
	}

	return result.Body.TxnToken, nil
}
