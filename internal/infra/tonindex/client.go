package tonindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client reads incoming transfers for a wallet from a toncenter-compatible
// indexing API. The indexer is best-effort: callers must treat any error as
// retryable, never as proof of non-payment.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Transfer struct {
	Hash     string
	At       time.Time
	Value    int64 // nanoton
	Comment  string
	Incoming bool
}

type txPage struct {
	OK     bool     `json:"ok"`
	Result []txItem `json:"result"`
}

type txItem struct {
	Utime         int64   `json:"utime"`
	TransactionID txID    `json:"transaction_id"`
	InMsg         *txMsg  `json:"in_msg"`
	OutMsgs       []txMsg `json:"out_msgs"`
}

type txID struct {
	Hash string `json:"hash"`
}

type txMsg struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Message     string `json:"message"`
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

// RecentTransfers returns the wallet's latest transactions, newest first,
// as the indexer orders them.
func (c *Client) RecentTransfers(ctx context.Context, wallet string, limit int) ([]Transfer, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("ton index client is not initialized")
	}
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("wallet address is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := url.Values{}
	query.Set("address", strings.TrimSpace(wallet))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("archival", "false")

	endpoint := c.baseURL + "/api/v2/getTransactions?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create transactions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch wallet transactions: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected indexer status: %d", resp.StatusCode)
	}

	var page txPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}
	if !page.OK {
		return nil, fmt.Errorf("indexer reported failure")
	}

	transfers := make([]Transfer, 0, len(page.Result))
	for _, item := range page.Result {
		transfers = append(transfers, toTransfer(item))
	}
	return transfers, nil
}

func toTransfer(item txItem) Transfer {
	t := Transfer{
		Hash: item.TransactionID.Hash,
		At:   time.Unix(item.Utime, 0).UTC(),
	}

	// A transaction with outbound messages is the wallet spending funds;
	// only pure inbound transfers count as payments.
	if item.InMsg != nil && len(item.OutMsgs) == 0 {
		t.Incoming = true
		t.Value = parseNanoton(item.InMsg.Value)
		t.Comment = item.InMsg.Message
	}

	return t
}

func parseNanoton(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
