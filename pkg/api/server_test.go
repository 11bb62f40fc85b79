package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/landmarket/pkg/app/market"
	"github.com/uhyunpark/landmarket/pkg/crypto"
)

type testNode struct {
	t      *testing.T
	app    *market.App
	srv    *Server
	http   *httptest.Server
	nonces map[string]uint64
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	app, err := market.New(market.Config{
		ChainID: big.NewInt(1337),
		Address: params.DefaultMarketAddress,
		Genesis: params.DevnetGenesis(),
	})
	require.NoError(t, err)

	cfg := params.Default().API
	srv := NewServer(app, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testNode{t: t, app: app, srv: srv, http: ts, nonces: map[string]uint64{}}
}

func (n *testNode) signer(key string) *crypto.Signer {
	s, err := crypto.FromPrivateKeyHex(key)
	require.NoError(n.t, err)
	return s
}

// post signs a transaction with the next nonce for s and submits it.
func (n *testNode) post(s *crypto.Signer, typ transaction.TxType, p transaction.Params) *http.Response {
	n.t.Helper()
	n.nonces[s.Address().Hex()]++
	tx := &transaction.SignedTransaction{
		Type:   typ,
		Nonce:  fmt.Sprint(n.nonces[s.Address().Hex()]),
		Params: p,
	}
	require.NoError(n.t, n.app.Verifier().Sign(s, tx))
	body, err := tx.Serialize()
	require.NoError(n.t, err)

	resp, err := http.Post(n.http.URL+"/api/v1/tx", "application/json", bytes.NewReader(body))
	require.NoError(n.t, err)
	n.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (n *testNode) get(path string, out any) *http.Response {
	n.t.Helper()
	resp, err := http.Get(n.http.URL + path)
	require.NoError(n.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(n.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestHealthAndStatus(t *testing.T) {
	n := newTestNode(t)

	resp := n.get("/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var st StatusInfo
	n.get("/api/v1/status", &st)
	require.Equal(t, 0, st.Orders)
	require.Equal(t, params.DefaultMarketAddress.Hex(), st.MarketAddress)
	require.Equal(t, "1337", st.ChainID)
	require.Equal(t, "CLOUD", st.Token)

	var pol PolicyInfo
	n.get("/api/v1/policy", &pol)
	require.Equal(t, params.DevnetDeployer.Hex(), pol.Owner)
	require.EqualValues(t, 25, pol.FeePerThousand)
	require.Empty(t, pol.FeeReceiver)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	n := newTestNode(t)
	user1 := n.signer(params.DevnetUser1Key)
	user2 := n.signer(params.DevnetUser2Key)
	marketAddr := params.DefaultMarketAddress.Hex()

	resp := n.post(user1, transaction.TxApproveAsset, transaction.Params{Spender: marketAddr, AssetID: "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "1", Price: "1000000000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rcpt SubmitTxResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rcpt))
	require.Equal(t, "applied", rcpt.Status)
	require.NotNil(t, rcpt.OrderID)
	require.EqualValues(t, 0, *rcpt.OrderID)

	var order OrderInfo
	n.get("/api/v1/orders/0", &order)
	require.Equal(t, "open", order.Status)
	require.Equal(t, "1000000000", order.Price)
	require.Equal(t, "10", order.PriceDisplay)

	var asset AssetInfo
	n.get("/api/v1/assets/1", &asset)
	require.True(t, asset.MarketAuthorized)
	require.NotNil(t, asset.OpenOrder)

	var q QuoteInfo
	n.get("/api/v1/orders/0/quote", &q)
	require.Equal(t, "0", q.Fee)
	require.Equal(t, "1000000000", q.SellerProceeds)

	// Buying without an allowance is an external failure
	resp = n.post(user2, transaction.TxExecuteOrder, transaction.Params{OrderID: "0"})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.Equal(t, "insufficient_allowance", decodeError(t, resp).Error)

	resp = n.post(user2, transaction.TxApproveToken, transaction.Params{Spender: marketAddr, Amount: "1000000000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = n.post(user2, transaction.TxExecuteOrder, transaction.Params{OrderID: "0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	n.get("/api/v1/orders/0", &order)
	require.Equal(t, "executed", order.Status)
	require.Equal(t, params.DevnetUser2.Hex(), order.Buyer)

	var acct AccountInfo
	n.get("/api/v1/accounts/"+params.DevnetUser2.Hex(), &acct)
	require.Equal(t, "0", acct.Balance)
	require.Equal(t, []string{"1"}, acct.Assets)
	require.EqualValues(t, 3, acct.Nonce)

	var list OrderList
	n.get("/api/v1/orders?status=open", &list)
	require.Empty(t, list.Orders)
	n.get("/api/v1/orders", &list)
	require.Len(t, list.Orders, 1)
	require.Equal(t, 1, list.Total)
}

func TestErrorStatusMapping(t *testing.T) {
	n := newTestNode(t)
	user1 := n.signer(params.DevnetUser1Key)
	deployer := n.signer(params.DevnetDeployerKey)

	resp := n.get("/api/v1/orders/42", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = n.get("/api/v1/assets/99", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = n.get("/api/v1/accounts/alice", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "2", Price: "0"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "price_must_be_positive", decodeError(t, resp).Error)

	resp = n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "2", Price: "5"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "not_authorized_to_manage_asset", decodeError(t, resp).Error)

	resp = n.post(deployer, transaction.TxTogglePause, transaction.Params{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "2", Price: "5"})
	require.Equal(t, http.StatusLocked, resp.StatusCode)

	// Replaying the last nonce conflicts
	n.nonces[user1.Address().Hex()]--
	resp = n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "2", Price: "5"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "nonce_used", decodeError(t, resp).Error)

	resp, err := http.Post(n.http.URL+"/api/v1/tx", "application/json", strings.NewReader(`{"type":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.ErrUnauthorizedBuyer, http.StatusForbidden},
		{fmt.Errorf("order 3: %w", errs.ErrOrderNotOpen), http.StatusConflict},
		{errs.ErrOrderNotFound, http.StatusNotFound},
		{errs.ErrFeeOutOfRange, http.StatusBadRequest},
		{errs.ErrInsufficientFunds, http.StatusPaymentRequired},
		{errs.ErrSystemPaused, http.StatusLocked},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWebSocketReceivesCommittedEvents(t *testing.T) {
	n := newTestNode(t)
	user1 := n.signer(params.DevnetUser1Key)

	wsURL := "ws" + strings.TrimPrefix(n.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"asset:1", "orders"}}))
	require.Eventually(t, func() bool {
		if n.srv.hub.Clients() != 1 {
			return false
		}
		n.srv.hub.mu.RLock()
		defer n.srv.hub.mu.RUnlock()
		for c := range n.srv.hub.clients {
			return c.IsSubscribed("orders")
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	n.post(user1, transaction.TxApproveAsset, transaction.Params{Spender: params.DefaultMarketAddress.Hex(), AssetID: "1"})
	resp := n.post(user1, transaction.TxCreateOrder, transaction.Params{AssetID: "1", Price: "7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Channel string `json:"channel"`
		Event   struct {
			Type string `json:"type"`
			Data struct {
				OrderID uint64 `json:"orderId"`
			} `json:"data"`
		} `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "orders", msg.Channel)
	require.Equal(t, "OrderCreated", msg.Event.Type)
	require.EqualValues(t, 0, msg.Event.Data.OrderID)
}
