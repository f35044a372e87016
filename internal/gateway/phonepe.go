package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/consult-payments/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second

	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"

	payPageInstrument = "PAY_PAGE"
)

var errNotInitialized = errors.New("gateway client is not initialized")

type PhonePeConfig struct {
	BaseURL    string
	MerchantID string
	SaltKey    string
	SaltIndex  int
	Timeout    time.Duration
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type signedRequest struct {
	Request string `json:"request"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type payData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	InstrumentResponse    struct {
		RedirectInfo struct {
			URL string `json:"url"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

type statusData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
}

// PhonePeClient talks to the PhonePe PG v1 API with salted X-VERIFY checksums.
type PhonePeClient struct {
	client     *resty.Client
	merchantID string
	saltKey    string
	saltIndex  int
}

func NewPhonePeClient(cfg PhonePeConfig) (*PhonePeClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewPhonePeClientWithClient(cfg, client)
}

func NewPhonePeClientWithClient(cfg PhonePeConfig, client *resty.Client) (*PhonePeClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, fmt.Errorf("gateway merchant id is required")
	}
	if strings.TrimSpace(cfg.SaltKey) == "" {
		return nil, fmt.Errorf("gateway salt key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	saltIndex := cfg.SaltIndex
	if saltIndex < 1 {
		saltIndex = 1
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(baseURL)
	client.SetHeader("Accept", "application/json")

	return &PhonePeClient{
		client:     client,
		merchantID: strings.TrimSpace(cfg.MerchantID),
		saltKey:    cfg.SaltKey,
		saltIndex:  saltIndex,
	}, nil
}

func (p *PhonePeClient) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	if p == nil || p.client == nil {
		return nil, errNotInitialized
	}
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 || strings.TrimSpace(req.PayerID) == "" {
		return nil, &GatewayError{Operation: "initiate", Message: "order id, amount and payer are required"}
	}

	payload := payPayload{
		MerchantID:            p.merchantID,
		MerchantTransactionID: req.OrderID,
		MerchantUserID:        req.PayerID,
		Amount:                req.Amount,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          http.MethodGet,
		CallbackURL:           req.CallbackURL,
		PaymentInstrument:     paymentInstrument{Type: payPageInstrument},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pay payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-VERIFY", p.checksum(encoded+payPath)).
		SetBody(signedRequest{Request: encoded}).
		Post(payPath)
	if err != nil {
		return nil, transportError("initiate", err)
	}

	envelope, err := decodeResponse("initiate", response)
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, &GatewayError{
			Operation:  "initiate",
			StatusCode: response.StatusCode(),
			Code:       envelope.Code,
			Message:    envelope.Message,
		}
	}

	var data payData
	if err := json.Unmarshal(envelope.Data, &data); err != nil || strings.TrimSpace(data.InstrumentResponse.RedirectInfo.URL) == "" {
		return nil, &GatewayError{
			Operation:  "initiate",
			StatusCode: response.StatusCode(),
			Code:       envelope.Code,
			Message:    "response carries no redirect url",
			Transient:  true,
		}
	}

	return &Session{
		OrderID:        req.OrderID,
		RedirectURL:    data.InstrumentResponse.RedirectInfo.URL,
		GatewayOrderID: data.MerchantTransactionID,
	}, nil
}

func (p *PhonePeClient) QueryStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	if p == nil || p.client == nil {
		return nil, errNotInitialized
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, &GatewayError{Operation: "status", Message: "order id is required"}
	}

	path := fmt.Sprintf("%s/%s/%s", statusPath, url.PathEscape(p.merchantID), url.PathEscape(orderID))

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-VERIFY", p.checksum(path)).
		SetHeader("X-MERCHANT-ID", p.merchantID).
		Get(path)
	if err != nil {
		return nil, transportError("status", err)
	}

	envelope, err := decodeResponse("status", response)
	if err != nil {
		return nil, err
	}

	var data statusData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil && envelope.Success {
			return nil, &GatewayError{
				Operation:  "status",
				StatusCode: response.StatusCode(),
				Code:       envelope.Code,
				Message:    "response data could not be decoded",
				Transient:  true,
				Cause:      err,
			}
		}
	}
	if envelope.Success && strings.TrimSpace(data.State) == "" {
		return nil, &GatewayError{
			Operation:  "status",
			StatusCode: response.StatusCode(),
			Code:       envelope.Code,
			Message:    "response carries no payment state",
			Transient:  true,
		}
	}

	// A declined payment comes back with success=false but still names its state.
	if !envelope.Success && strings.TrimSpace(data.State) == "" {
		return nil, &GatewayError{
			Operation:  "status",
			StatusCode: response.StatusCode(),
			Code:       envelope.Code,
			Message:    envelope.Message,
		}
	}

	return &StatusResult{
		OrderID:       orderID,
		State:         domain.ParseGatewayState(data.State),
		RawState:      data.State,
		TransactionID: data.TransactionID,
		Amount:        data.Amount,
	}, nil
}

// checksum renders the X-VERIFY header: sha256(input + saltKey) + "###" + saltIndex.
func (p *PhonePeClient) checksum(input string) string {
	sum := sha256.Sum256([]byte(input + p.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + strconv.Itoa(p.saltIndex)
}

func decodeResponse(operation string, response *resty.Response) (*apiResponse, error) {
	if response == nil {
		return nil, &GatewayError{
			Operation: operation,
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	var envelope apiResponse
	decodeErr := json.Unmarshal(response.Body(), &envelope)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if decodeErr != nil {
			return nil, &GatewayError{
				Operation:  operation,
				StatusCode: statusCode,
				Message:    "undecodable gateway response",
				Transient:  true,
				Cause:      decodeErr,
			}
		}
		return &envelope, nil
	}

	// PhonePe reports a declined status check as 4xx with a regular envelope.
	if operation == "status" && statusCode < http.StatusInternalServerError && decodeErr == nil && len(envelope.Data) > 0 {
		return &envelope, nil
	}

	message := envelope.Message
	if decodeErr != nil || strings.TrimSpace(message) == "" {
		message = errorMessage(statusCode, body)
	}

	return nil, &GatewayError{
		Operation:  operation,
		StatusCode: statusCode,
		Code:       envelope.Code,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func transportError(operation string, err error) error {
	return &GatewayError{
		Operation: operation,
		Message:   "gateway request failed",
		Transient: true,
		Cause:     err,
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

var _ Client = (*PhonePeClient)(nil)
