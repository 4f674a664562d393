package posclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpos/internal/domain"
	"smartpos/internal/httpapi"
	"smartpos/internal/posclient"
	"smartpos/internal/service"
	"smartpos/internal/store/memory"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewSeeded()
	api := httpapi.New(service.New(repo), httpapi.NewAuthManager("client-test-secret", time.Hour, repo), "*")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func staffClient(t *testing.T, srv *httptest.Server) *posclient.Client {
	t.Helper()
	client, err := posclient.New(srv.URL + "/api/v1/")
	require.NoError(t, err)
	session, err := client.Login(context.Background(), " staff ", "staff123")
	require.NoError(t, err)
	return client.WithSession(session)
}

func TestNewRejectsNonHTTPURL(t *testing.T) {
	_, err := posclient.New("ftp://pos.local/api/v1")
	assert.Error(t, err)
}

func TestLoginReturnsSession(t *testing.T) {
	srv := newServer(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)

	_, ok := client.Session()
	assert.False(t, ok)

	session, err := client.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "staff", session.Username)
	assert.Equal(t, domain.RoleStaff, session.Role)
	assert.True(t, session.ExpiresAt.After(time.Now()))
	assert.True(t, session.Valid(time.Now()))
	assert.False(t, session.Valid(session.ExpiresAt.Add(time.Second)))

	bound := client.WithSession(session)
	actor, err := bound.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "staff", Role: domain.RoleStaff}, actor)

	_, ok = client.Session()
	assert.False(t, ok, "WithSession must not modify the original client")
}

func TestLoginWrongPasswordKeepsServerMessage(t *testing.T) {
	srv := newServer(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "staff", "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, posclient.StatusOf(err))
	assert.Equal(t, "Incorrect username or password", err.Error())
}

func TestInvalidTokenMatchesErrUnauthorized(t *testing.T) {
	srv := newServer(t)
	client, err := posclient.New(srv.URL + "/api/v1")
	require.NoError(t, err)

	_, err = client.WithSession(posclient.Session{Token: "not-a-token"}).ListStock(context.Background(), domain.StockQuery{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, posclient.ErrUnauthorized))

	_, err = client.ListStock(context.Background(), domain.StockQuery{})
	assert.ErrorIs(t, err, posclient.ErrUnauthorized)
}

func TestListStockAppliesQuery(t *testing.T) {
	srv := newServer(t)
	client := staffClient(t, srv)

	page, err := client.ListStock(context.Background(), domain.StockQuery{IDs: []int64{5, 2}, SortBy: "id", SortOrder: "asc", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Items[0].ID)
	assert.Equal(t, int64(5), page.Items[1].ID)
	assert.Equal(t, 2, page.Total)

	item, err := client.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "arabica coffee beans 1kg", item.Name)

	_, err = client.GetStock(context.Background(), 999)
	assert.Equal(t, http.StatusNotFound, posclient.StatusOf(err))

	categories, err := client.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, categories, 3)
}

func TestSearchCustomersSkipsShortTerms(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t)
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unexpected", http.StatusTeapot)
	}))
	t.Cleanup(counting.Close)

	offline, err := posclient.New(counting.URL)
	require.NoError(t, err)
	customers, err := offline.SearchCustomers(context.Background(), " g ")
	require.NoError(t, err)
	assert.Nil(t, customers)
	assert.Zero(t, calls.Load())

	client := staffClient(t, srv)
	customers, err = client.SearchCustomers(context.Background(), "555-0102")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Grace Hopper", customers[0].Name)
}

func TestCreateVouchersReturnsBatchInOrder(t *testing.T) {
	srv := newServer(t)
	client := staffClient(t, srv)
	customerID := int64(1)

	created, err := client.CreateVouchers(context.Background(), []domain.VoucherRequest{
		{Items: []domain.VoucherItemRequest{{ProductID: 3, Quantity: 2}}, CustomerID: &customerID},
		{Items: []domain.VoucherItemRequest{{ProductID: 6, Quantity: 4}}, DeliveryAddress: "4 Elm Street"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "2.20", created[0].TotalAmount.StringFixed(2))
	assert.Equal(t, "3.60", created[1].TotalAmount.StringFixed(2))
	assert.Equal(t, "4 Elm Street", created[1].DeliveryAddress)
	assert.Equal(t, "staff", created[0].StaffUsername)

	fetched, err := client.GetVoucher(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, created[0].VoucherNumber, fetched.VoucherNumber)

	stats, err := client.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VouchersIssued)
}

func TestCreateVouchersShortageIsConflict(t *testing.T) {
	srv := newServer(t)
	client := staffClient(t, srv)

	_, err := client.CreateVouchers(context.Background(), []domain.VoucherRequest{
		{Items: []domain.VoucherItemRequest{{ProductID: 1, Quantity: 30}}},
		{Items: []domain.VoucherItemRequest{{ProductID: 1, Quantity: 15}}},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, posclient.StatusOf(err))
	assert.Equal(t, "Insufficient stock for 'arabica coffee beans 1kg'. Available: 40, Requested across batch: 45", err.Error())
	assert.False(t, errors.Is(err, posclient.ErrUnauthorized))

	item, err := client.GetStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 40, item.Quantity)
}

func TestCreateCustomer(t *testing.T) {
	srv := newServer(t)
	client := staffClient(t, srv)

	customer, err := client.CreateCustomer(context.Background(), domain.CustomerRequest{Name: "Katherine Johnson", Phone: "555-0199"})
	require.NoError(t, err)
	assert.NotZero(t, customer.ID)

	_, err = client.CreateCustomer(context.Background(), domain.CustomerRequest{Name: "Someone Else", Phone: "555-0199"})
	assert.Equal(t, http.StatusConflict, posclient.StatusOf(err))
}

func TestAPIErrorFallsBackToStatus(t *testing.T) {
	assert.Equal(t, "server returned 502", (&posclient.APIError{Status: 502}).Error())
	assert.Zero(t, posclient.StatusOf(errors.New("plain")))
}
