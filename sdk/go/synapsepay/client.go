// Package synapsepay is a Go client for the SynapsePay REST API.
package synapsepay

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/mr-tron/base58"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// CallerHeader carries the caller wallet when the server runs in header mode.
const CallerHeader = "X-SynapsePay-Caller"

// Client wraps the HTTP interactions with the SynapsePay REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	caller      string
}

// Token represents an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Wallet      string `json:"wallet"`
}

// Agent is a catalog entry.
type Agent struct {
	AgentID     string `json:"agent_id"`
	Owner       string `json:"owner"`
	MetadataCID string `json:"metadata_cid"`
	Price       uint64 `json:"price"`
	Category    string `json:"category"`
	TotalRuns   uint64 `json:"total_runs"`
	TotalEarned uint64 `json:"total_earned"`
	Rating      uint16 `json:"rating"`
	RatingCount uint32 `json:"rating_count"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// RegisterAgent is the payload for registering a new agent.
type RegisterAgent struct {
	AgentID     string `json:"agent_id"`
	MetadataCID string `json:"metadata_cid"`
	Price       uint64 `json:"price"`
	Category    string `json:"category"`
}

// Invoice is a priced request for one agent execution.
type Invoice struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	State     string `json:"state"`
	ExpiresAt int64  `json:"expires_at"`
	CreatedAt int64  `json:"created_at"`
	Nonce     uint64 `json:"nonce"`
}

// CreateInvoice is the payload for creating an invoice.
type CreateInvoice struct {
	Recipient string `json:"recipient"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	ExpiresAt int64  `json:"expires_at"`
}

// Payment tracks funds from settlement through claim or refund.
type Payment struct {
	ID            string `json:"id"`
	InvoiceID     string `json:"invoice_id"`
	Payer         string `json:"payer"`
	Recipient     string `json:"recipient"`
	AgentID       string `json:"agent_id"`
	Amount        uint64 `json:"amount"`
	PlatformFee   uint64 `json:"platform_fee"`
	State         string `json:"state"`
	ResultCID     string `json:"result_cid,omitempty"`
	TxSignature   string `json:"tx_signature,omitempty"`
	EscrowAccount string `json:"escrow_account,omitempty"`
	SettledAt     int64  `json:"settled_at"`
	CompletedAt   int64  `json:"completed_at,omitempty"`
}

// Receipt is the proof of a completed execution.
type Receipt struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Payer     string `json:"payer"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	ResultCID string `json:"result_cid"`
	MintedAt  int64  `json:"minted_at"`
	Slot      uint64 `json:"slot"`
}

// Platform holds the marketplace configuration created at initialization.
type Platform struct {
	Admin             string `json:"admin"`
	FeeTreasury       string `json:"fee_treasury"`
	PlatformAuthority string `json:"platform_authority"`
	EscrowAuthority   string `json:"escrow_authority"`
	InitializedAt     int64  `json:"initialized_at"`
}

// Cadence describes how often a subscription runs. Seconds is only used by
// the custom kind.
type Cadence struct {
	Kind    string `json:"kind"`
	Seconds int64  `json:"seconds,omitempty"`
}

// Subscription is a pre-funded recurring billing record.
type Subscription struct {
	ID        string  `json:"id"`
	Owner     string  `json:"owner"`
	AgentID   string  `json:"agent_id"`
	Cadence   Cadence `json:"cadence"`
	NextRunAt int64   `json:"next_run_at"`
	LastRunAt int64   `json:"last_run_at"`
	TotalRuns uint64  `json:"total_runs"`
	MaxRuns   uint64  `json:"max_runs"`
	Balance   uint64  `json:"balance"`
	IsActive  bool    `json:"is_active"`
	IsPaused  bool    `json:"is_paused"`
	CreatedAt int64   `json:"created_at"`
}

// CreateSubscription is the payload for creating a subscription.
type CreateSubscription struct {
	AgentID string  `json:"agent_id"`
	Cadence Cadence `json:"cadence"`
	MaxRuns uint64  `json:"max_runs,omitempty"`
}

// TriggerResult describes one billed subscription run. PaymentID names the
// executing payment the agent owner completes and claims.
type TriggerResult struct {
	Subscription  *Subscription `json:"subscription"`
	RunNumber     uint64        `json:"run_number"`
	AmountPaid    uint64        `json:"amount_paid"`
	Fee           uint64        `json:"fee"`
	PaymentID     string        `json:"payment_id,omitempty"`
	EscrowAccount string        `json:"escrow_account,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("synapsepay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("synapsepay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the SynapsePay API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// LoginMessage returns the message a wallet signs to obtain a token.
func LoginMessage(wallet string, issued int64) []byte {
	return []byte(fmt.Sprintf("SynapsePay Login\nWallet: %s\nIssued: %d", wallet, issued))
}

// Login signs the login message with key and stores the issued token.
func (c *Client) Login(ctx context.Context, key ed25519.PrivateKey) (Token, error) {
	wallet := base58.Encode(key.Public().(ed25519.PublicKey))
	issued := time.Now().Unix()
	payload := map[string]any{
		"wallet":    wallet,
		"issued":    issued,
		"signature": hex.EncodeToString(ed25519.Sign(key, LoginMessage(wallet, issued))),
	}
	var token Token
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", payload, &token); err != nil {
		return Token{}, err
	}
	c.SetAccessToken(token.AccessToken)
	return token, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SetCaller sets the wallet sent in the caller header. Only servers running
// in header mode honour it.
func (c *Client) SetCaller(wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = wallet
}

// RegisterAgent registers a new agent owned by the caller.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgent) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodPost, "/api/v1/agents", req, &agent)
	return agent, err
}

// GetAgent fetches an agent by id.
func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID), nil, &agent)
	return agent, err
}

// ListAgents lists catalog entries, optionally filtered by category.
func (c *Client) ListAgents(ctx context.Context, category string, limit, offset int) ([]Agent, error) {
	q := pageQuery(limit, offset)
	if category != "" {
		q.Set("category", category)
	}
	var list struct {
		Items []Agent `json:"items"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/agents?"+q.Encode(), nil, &list)
	return list.Items, err
}

// InitializePlatform makes the caller the platform admin. It can only
// succeed once per deployment.
func (c *Client) InitializePlatform(ctx context.Context) (Platform, error) {
	var p Platform
	err := c.send(ctx, http.MethodPost, "/api/v1/platform/initialize", nil, &p)
	return p, err
}

// WithdrawFees moves the accumulated platform fees to the admin wallet.
func (c *Client) WithdrawFees(ctx context.Context) (uint64, error) {
	var resp struct {
		Amount uint64 `json:"amount"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/platform/withdraw-fees", nil, &resp)
	return resp.Amount, err
}

// CreateInvoice creates an invoice payable by the caller.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoice) (Invoice, error) {
	var inv Invoice
	err := c.send(ctx, http.MethodPost, "/api/v1/invoices", req, &inv)
	return inv, err
}

// SettleInvoice settles an invoice. signature may be nil when the server does
// not verify payment intents.
func (c *Client) SettleInvoice(ctx context.Context, invoiceID string, signature []byte) (Payment, error) {
	body := map[string]string{}
	if len(signature) > 0 {
		body["signature"] = hex.EncodeToString(signature)
	}
	var p Payment
	err := c.send(ctx, http.MethodPost, "/api/v1/invoices/"+url.PathEscape(invoiceID)+"/settle", body, &p)
	return p, err
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var p Payment
	err := c.send(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(paymentID), nil, &p)
	return p, err
}

// VerifyPayment moves a payment into execution.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string) (Payment, error) {
	return c.paymentAction(ctx, paymentID, "verify", nil)
}

// CompleteTask records the result of an execution.
func (c *Client) CompleteTask(ctx context.Context, paymentID, resultCID string) (Payment, error) {
	return c.paymentAction(ctx, paymentID, "complete", map[string]string{"result_cid": resultCID})
}

// FailPayment marks an execution as failed.
func (c *Client) FailPayment(ctx context.Context, paymentID, reason string) (Payment, error) {
	return c.paymentAction(ctx, paymentID, "fail", map[string]string{"reason": reason})
}

// ClaimPayment releases escrowed funds to the recipient.
func (c *Client) ClaimPayment(ctx context.Context, paymentID string) (Payment, error) {
	return c.paymentAction(ctx, paymentID, "claim", nil)
}

// RefundPayment returns escrowed funds to the payer.
func (c *Client) RefundPayment(ctx context.Context, paymentID string) (Payment, error) {
	return c.paymentAction(ctx, paymentID, "refund", nil)
}

// MintReceipt mints the receipt for a completed payment.
func (c *Client) MintReceipt(ctx context.Context, paymentID string) (Receipt, error) {
	var r Receipt
	err := c.send(ctx, http.MethodPost, "/api/v1/payments/"+url.PathEscape(paymentID)+"/receipt", nil, &r)
	return r, err
}

func (c *Client) paymentAction(ctx context.Context, paymentID, action string, body any) (Payment, error) {
	var p Payment
	err := c.send(ctx, http.MethodPost, "/api/v1/payments/"+url.PathEscape(paymentID)+"/"+action, body, &p)
	return p, err
}

// CreateSubscription creates a subscription owned by the caller.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscription) (Subscription, error) {
	var sub Subscription
	err := c.send(ctx, http.MethodPost, "/api/v1/subscriptions", req, &sub)
	return sub, err
}

// GetSubscription fetches a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	var sub Subscription
	err := c.send(ctx, http.MethodGet, "/api/v1/subscriptions/"+url.PathEscape(id), nil, &sub)
	return sub, err
}

// FundSubscription adds amount to the subscription balance.
func (c *Client) FundSubscription(ctx context.Context, id string, amount uint64) (Subscription, error) {
	var sub Subscription
	err := c.send(ctx, http.MethodPost, "/api/v1/subscriptions/"+url.PathEscape(id)+"/fund", map[string]uint64{"amount": amount}, &sub)
	return sub, err
}

// TriggerSubscription bills one run of a due subscription.
func (c *Client) TriggerSubscription(ctx context.Context, id string) (TriggerResult, error) {
	var result TriggerResult
	err := c.send(ctx, http.MethodPost, "/api/v1/subscriptions/"+url.PathEscape(id)+"/trigger", nil, &result)
	return result, err
}

// CancelSubscription closes a subscription and returns the refunded balance.
func (c *Client) CancelSubscription(ctx context.Context, id string) (uint64, error) {
	var resp struct {
		Refunded uint64 `json:"refunded"`
	}
	err := c.send(ctx, http.MethodDelete, "/api/v1/subscriptions/"+url.PathEscape(id), nil, &resp)
	return resp.Refunded, err
}

// Balance returns the ledger balance of an account.
func (c *Client) Balance(ctx context.Context, account string) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/ledger/accounts/"+url.PathEscape(account), nil, &resp)
	return resp.Balance, err
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	u := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token, caller := c.accessToken, c.caller
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
