package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpos/internal/domain"
	"smartpos/internal/httpapi"
	"smartpos/internal/posclient"
	"smartpos/internal/service"
	"smartpos/internal/store/memory"
	"smartpos/internal/workbench"
)

func newBackend(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	api := httpapi.New(service.New(repo), httpapi.NewAuthManager("posctl-test-secret", time.Hour, repo), "*")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, repo
}

func loginToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)
	session, err := client.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)
	return session.Token
}

func TestDecodePlanRejectsUnknownFields(t *testing.T) {
	_, err := decodePlan(strings.NewReader(`{"main":{"items":[]},"tip":5}`))
	assert.Error(t, err)

	p, err := decodePlan(strings.NewReader(`{"discount":{"percentage":"5"},"main":{"items":[{"product_id":3,"quantity":2}]},"additional":[{"items":[{"product_id":3,"quantity":1}],"customer_id":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, p.productIDs())
	assert.Equal(t, "5", p.Discount.Percentage.String())
}

func TestRunSubmitCommitsPlanAndSavesReceipts(t *testing.T) {
	srv, repo := newBackend(t)
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(planPath, []byte(`{
		"main": {"items": [{"product_id": 1, "quantity": 2}], "customer_id": 1},
		"additional": [
			{"items": [{"product_id": 1, "quantity": 45}], "delivery_address": "4 Elm Street"},
			{"items": [{"product_id": 5, "quantity": 3}], "customer_id": 2}
		]
	}`), 0o600))

	t.Setenv("POSCTL_API_URL", srv.URL+"/api/v1")
	t.Setenv("POSCTL_TOKEN", loginToken(t, srv))

	var out bytes.Buffer
	receipts := filepath.Join(dir, "receipts")
	err := run(context.Background(), []string{"submit", "-plan", planPath, "-receipts", receipts}, &out)
	require.NoError(t, err, out.String())

	assert.Contains(t, out.String(), "only 38 of 'arabica coffee beans 1kg' left for this voucher; quantity set to 38")
	assert.Contains(t, out.String(), "VOUCHER")

	files, err := filepath.Glob(filepath.Join(receipts, "*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 3)

	coffee, err := repo.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, coffee.Quantity)
}

func TestRunSubmitWithoutTokenIsUnauthorized(t *testing.T) {
	srv, _ := newBackend(t)
	t.Setenv("POSCTL_API_URL", srv.URL+"/api/v1")
	t.Setenv("POSCTL_TOKEN", "")

	err := run(context.Background(), []string{"submit", "-plan", "missing.json"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, posclient.ErrUnauthorized)
}

func TestRunStockAndCustomers(t *testing.T) {
	srv, _ := newBackend(t)
	t.Setenv("POSCTL_API_URL", srv.URL+"/api/v1")
	t.Setenv("POSCTL_TOKEN", loginToken(t, srv))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"stock", "-name", "tea"}, &out))
	assert.Contains(t, out.String(), "green tea 25 bags")
	assert.Contains(t, out.String(), "3.78")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"customers", "-search", "hop"}, &out))
	assert.Contains(t, out.String(), "Grace Hopper")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"customers", "-search", "h"}, &out))
	assert.Contains(t, out.String(), "no customers found")
}

func TestSubmitPlanKeepsDraftsOnServerRejection(t *testing.T) {
	srv, repo := newBackend(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)
	session, err := client.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)
	client = client.WithSession(session)

	p := plan{Main: planVoucher{Items: []domain.VoucherItemRequest{{ProductID: 4, Quantity: 10}}}}
	wb := workbench.New(client, client)
	_, err = p.apply(context.Background(), wb)
	require.NoError(t, err)

	// Someone else sells the crackers before this plan is submitted.
	_, err = repo.UpdateStock(context.Background(), domain.StockItem{ID: 4, Name: "salted crackers", Quantity: 5, Price: decimal.RequireFromString("2.75")})
	require.NoError(t, err)

	var out bytes.Buffer
	err = submitDrafts(context.Background(), wb, &out)
	require.Error(t, err)
	assert.Equal(t, 409, posclient.StatusOf(err))
	assert.Equal(t, "Insufficient stock for 'salted crackers'. Available: 5, Requested across batch: 10", err.Error())
	assert.Equal(t, 10, wb.Drafts()[0].Quantity(4))
	assert.Empty(t, out.String())
}

func TestSubmitPlanDropsUnknownProductWithWarning(t *testing.T) {
	srv, repo := newBackend(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)
	session, err := client.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)
	client = client.WithSession(session)

	p := plan{Main: planVoucher{Items: []domain.VoucherItemRequest{{ProductID: 999, Quantity: 2}, {ProductID: 3, Quantity: 1}}}}
	var out bytes.Buffer
	require.NoError(t, submitPlan(context.Background(), workbench.New(client, client), p, &out))
	assert.Contains(t, out.String(), "warning: '#999' is not in the loaded catalog; line dropped")
	assert.Contains(t, out.String(), "VOUCHER")

	water, err := repo.GetStock(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 119, water.Quantity)
}

func TestPlanLoadsMoreProductsThanOnePage(t *testing.T) {
	srv, repo := newBackend(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)
	session, err := client.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)
	client = client.WithSession(session)

	var p plan
	for i := 0; i < 230; i++ {
		item, err := repo.CreateStock(context.Background(), domain.StockItem{
			Name:     fmt.Sprintf("bulk item %03d", i),
			Price:    decimal.NewFromInt(1),
			Quantity: 2,
		})
		require.NoError(t, err)
		p.Main.Items = append(p.Main.Items, domain.VoucherItemRequest{ProductID: item.ID, Quantity: 1})
	}

	wb := workbench.New(client, client)
	adjustments, err := p.apply(context.Background(), wb)
	require.NoError(t, err)
	require.Len(t, adjustments, 230)
	for _, adj := range adjustments {
		assert.Empty(t, adj.Warning(), "product %d", adj.ProductID)
	}
	assert.Len(t, wb.Drafts()[workbench.Main].Lines, 230)
}
