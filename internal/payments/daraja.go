package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const darajaTimestampLayout = "20060102150405"

type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// Daraja drives M-Pesa STK push: Initialize asks Safaricom to pop a PIN
// prompt on the buyer's phone, the outcome arrives later on the webhook,
// and Verify polls for orders whose webhook never came.
type Daraja struct {
	cfg    DarajaConfig
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewDaraja(cfg DarajaConfig, logger *slog.Logger) *Daraja {
	return &Daraja{
		cfg: cfg,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (d *Daraja) Name() string { return "daraja" }

// Daraja does not sign callbacks; correlation and the guarded transitions
// carry the trust instead.
func (d *Daraja) SignatureHeader() string { return "" }

type darajaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cached token is within a minute of expiry.
func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token != "" && time.Now().Before(d.tokenExpiry.Add(-time.Minute)) {
		return d.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.ConsumerKey, d.cfg.ConsumerSecret)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var tr darajaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrProviderUnavailable, err)
	}

	ttl, err := strconv.Atoi(tr.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3600
	}

	d.token = tr.AccessToken
	d.tokenExpiry = time.Now().Add(time.Duration(ttl) * time.Second)
	return d.token, nil
}

// password derives the STK push credential for a given timestamp.
func (d *Daraja) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(d.cfg.Shortcode + d.cfg.Passkey + timestamp))
}

// wholeShillings converts cents to the whole units Daraja expects, rounding
// up so a fractional balance is never undercharged.
func wholeShillings(cents int64) int64 {
	amount := cents / 100
	if cents%100 != 0 {
		amount++
	}
	return amount
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

func (d *Daraja) Initialize(ctx context.Context, params InitParams) (*InitResult, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(darajaTimestampLayout)
	body := stkPushRequest{
		BusinessShortCode: d.cfg.Shortcode,
		Password:          d.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeShillings(params.AmountCents),
		PartyA:            params.PhoneNumber,
		PartyB:            d.cfg.Shortcode,
		PhoneNumber:       params.PhoneNumber,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  params.OrderNumber,
		TransactionDesc:   "Payment for order " + params.OrderNumber,
	}

	var out stkPushResponse
	status, err := d.post(ctx, token, "/mpesa/stkpush/v1/processrequest", body, &out)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		if status >= 400 && status < 500 {
			msg := out.ErrorMessage
			if msg == "" {
				msg = out.ResponseDescription
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
		}
		return nil, fmt.Errorf("%w: stk push returned %d", ErrProviderUnavailable, status)
	}

	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, out.ResponseDescription)
	}

	return &InitResult{
		ProviderRef:     out.CheckoutRequestID,
		CustomerMessage: out.CustomerMessage,
	}, nil
}

type stkQueryResponse struct {
	ResponseCode   string `json:"ResponseCode"`
	ResultCode     string `json:"ResultCode"`
	ResultDesc     string `json:"ResultDesc"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
	RequestID      string `json:"requestId"`
	CheckoutReqID  string `json:"CheckoutRequestID"`
	MerchantReqID  string `json:"MerchantRequestID"`
	CustomerNumber string `json:"PhoneNumber"`
}

// Verify polls the STK push status. A transaction Safaricom is still
// processing reports pending; only a definite result moves the order.
func (d *Daraja) Verify(ctx context.Context, providerRef string) (*VerifyResult, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(darajaTimestampLayout)
	body := map[string]string{
		"BusinessShortCode": d.cfg.Shortcode,
		"Password":          d.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": providerRef,
	}

	var out stkQueryResponse
	status, err := d.post(ctx, token, "/mpesa/stkpushquery/v1/query", body, &out)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		// 500.001.1001 is "transaction is being processed".
		if out.ErrorCode == "500.001.1001" {
			return &VerifyResult{Status: StatusPending, Detail: out.ErrorMessage}, nil
		}
		if status >= 500 {
			return nil, fmt.Errorf("%w: query returned %d", ErrProviderUnavailable, status)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, out.ErrorMessage)
	}

	switch out.ResultCode {
	case "0":
		return &VerifyResult{Status: StatusPaid, Detail: out.ResultDesc}, nil
	case "1037": // timeout waiting for the user, may still complete
		return &VerifyResult{Status: StatusPending, Detail: out.ResultDesc}, nil
	default:
		return &VerifyResult{Status: StatusFailed, Detail: out.ResultDesc}, nil
	}
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// HandleWebhook decodes an STK callback. Daraja does not sign callbacks, so
// the signature goes unused; the reconciler trusts only the order lookup and
// the guarded status transition, never the payload alone.
func (d *Daraja) HandleWebhook(payload []byte, _ string) WebhookResult {
	var cb stkCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		d.logger.Warn("undecodable daraja callback", "error", err)
		return WebhookResult{Status: StatusPending}
	}

	sc := cb.Body.StkCallback

	result := WebhookResult{
		OrderRef: sc.CheckoutRequestID,
		Detail:   sc.ResultDesc,
		Status:   StatusFailed,
	}
	if sc.ResultCode == 0 {
		result.Status = StatusPaid
	}

	for _, item := range sc.CallbackMetadata.Item {
		switch item.Name {
		case "AccountReference":
			if s, ok := item.Value.(string); ok && s != "" {
				result.OrderRef = s
			}
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				result.Receipt = s
			}
		}
	}

	return result
}

func (d *Daraja) post(ctx context.Context, token, path string, body any, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	// Daraja error bodies share field names with success bodies, decode
	// best-effort either way.
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode == http.StatusOK {
			return 0, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
		}
	}

	return resp.StatusCode, nil
}
