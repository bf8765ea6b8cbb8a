package tonindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecentTransfersParsesIncomingAndOutgoing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/getTransactions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("address") != "UQwallet" {
			t.Fatalf("unexpected address: %s", r.URL.Query().Get("address"))
		}
		if r.URL.Query().Get("limit") != "10" {
			t.Fatalf("unexpected limit: %s", r.URL.Query().Get("limit"))
		}
		if r.URL.Query().Get("archival") != "false" {
			t.Fatalf("archival must be false")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ok": true,
			"result": [
				{
					"utime": 1700000600,
					"transaction_id": {"hash": "hash-in"},
					"in_msg": {"source": "UQbuyer", "destination": "UQwallet", "value": "5382000000", "message": "course_42"},
					"out_msgs": []
				},
				{
					"utime": 1700000500,
					"transaction_id": {"hash": "hash-out"},
					"in_msg": {"source": "", "destination": "", "value": "0", "message": ""},
					"out_msgs": [{"source": "UQwallet", "destination": "UQother", "value": "100", "message": ""}]
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	transfers, err := client.RecentTransfers(context.Background(), "UQwallet", 10)
	if err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(transfers))
	}

	incoming := transfers[0]
	if !incoming.Incoming {
		t.Fatalf("first transfer must be incoming")
	}
	if incoming.Hash != "hash-in" {
		t.Fatalf("unexpected hash: %s", incoming.Hash)
	}
	if incoming.Value != 5382000000 {
		t.Fatalf("unexpected value: %d", incoming.Value)
	}
	if incoming.Comment != "course_42" {
		t.Fatalf("unexpected comment: %s", incoming.Comment)
	}
	if !incoming.At.Equal(time.Unix(1700000600, 0).UTC()) {
		t.Fatalf("unexpected timestamp: %v", incoming.At)
	}

	outgoing := transfers[1]
	if outgoing.Incoming {
		t.Fatalf("second transfer must be outgoing")
	}
	if outgoing.Value != 0 {
		t.Fatalf("outgoing transfer must carry no inbound value")
	}
}

func TestRecentTransfersRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusBadGateway, body: `{}`},
		{name: "malformed body", status: http.StatusOK, body: `{"ok": true, "result": [`},
		{name: "indexer failure", status: http.StatusOK, body: `{"ok": false, "result": []}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, server.Client())
			if _, err := client.RecentTransfers(context.Background(), "UQwallet", 5); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestRecentTransfersRequiresWallet(t *testing.T) {
	client := NewClient("https://example.org", nil)
	if _, err := client.RecentTransfers(context.Background(), "  ", 5); err == nil {
		t.Fatalf("expected error for empty wallet")
	}
}
