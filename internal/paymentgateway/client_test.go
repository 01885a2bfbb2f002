package paymentgateway_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-reconciliation/internal"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/paymentgateway"
)

var _ = ginkgo.Describe("Client", func() {
	var (
		server   *httptest.Server
		client   *paymentgateway.Client
		handler  http.HandlerFunc
		received *http.Request
		body     []byte
	)

	ginkgo.BeforeEach(func() {
		handler = nil
		received = nil
		body = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r
			body, _ = io.ReadAll(r.Body)
			handler(w, r)
		}))
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		client = paymentgateway.NewClient(paymentgateway.Config{
			BaseURL: server.URL + "/",
			APIKey:  "test-key",
			Timeout: time.Second,
		}, logger)
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.Describe("GetCharge", func() {
		ginkgo.It("fetches the charge with the api key header", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"pay_1","status":"RECEIVED","value":100.00,"netValue":97.01}`))
			}

			snapshot, err := client.GetCharge(context.Background(), "pay_1")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(received.Method).To(gomega.Equal(http.MethodGet))
			gomega.Expect(received.URL.Path).To(gomega.Equal("/payments/pay_1"))
			gomega.Expect(received.Header.Get("access_token")).To(gomega.Equal("test-key"))
			gomega.Expect(snapshot.Status).To(gomega.Equal("RECEIVED"))
			gomega.Expect(snapshot.Value.Equal(decimal.RequireFromString("100"))).To(gomega.BeTrue())
		})

		ginkgo.It("maps 404 to a not found error", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}

			_, err := client.GetCharge(context.Background(), "missing")

			gomega.Expect(internal.HasCode(err, internal.ErrCodePaymentNotFound)).To(gomega.BeTrue())
		})

		ginkgo.It("maps 5xx to gateway unavailable", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}

			_, err := client.GetCharge(context.Background(), "pay_1")

			gomega.Expect(internal.HasCode(err, internal.ErrCodeGatewayUnavailable)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("CreateTransfer", func() {
		ginkgo.It("posts the transfer and returns its id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"tr_1","status":"PENDING","value":10.00}`))
			}

			resp, err := client.CreateTransfer(context.Background(), &gatewaytypes.TransferRequest{
				Value:    decimal.RequireFromString("10.00"),
				WalletID: "wallet-a",
			})

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(resp.ID).To(gomega.Equal("tr_1"))
			gomega.Expect(received.URL.Path).To(gomega.Equal("/transfers"))

			var sent map[string]interface{}
			gomega.Expect(json.Unmarshal(body, &sent)).To(gomega.Succeed())
			gomega.Expect(sent["walletId"]).To(gomega.Equal("wallet-a"))
		})

		ginkgo.It("treats a failed transfer status as rejection", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"tr_2","status":"FAILED"}`))
			}

			_, err := client.CreateTransfer(context.Background(), &gatewaytypes.TransferRequest{
				Value:    decimal.RequireFromString("10.00"),
				WalletID: "wallet-a",
			})

			gomega.Expect(internal.HasCode(err, internal.ErrCodeTransferRejected)).To(gomega.BeTrue())
		})

		ginkgo.It("surfaces 4xx gateway errors as rejection", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":[{"code":"invalid_wallet","description":"wallet not found"}]}`))
			}

			_, err := client.CreateTransfer(context.Background(), &gatewaytypes.TransferRequest{
				Value:    decimal.RequireFromString("10.00"),
				WalletID: "wallet-x",
			})

			gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("wallet not found")))
			gomega.Expect(internal.HasCode(err, internal.ErrCodeTransferRejected)).To(gomega.BeTrue())
		})

		ginkgo.It("rejects a zero amount before calling the gateway", func() {
			_, err := client.CreateTransfer(context.Background(), &gatewaytypes.TransferRequest{
				Value:    decimal.Zero,
				WalletID: "wallet-a",
			})

			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(received).To(gomega.BeNil())
		})
	})
})
