package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/backend"
	"github.com/sakif/storefront/internal/backend/backendtest"
	"github.com/sakif/storefront/internal/cart"
	"github.com/sakif/storefront/internal/handler"
	"github.com/sakif/storefront/internal/inventory"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	backend *backendtest.Server
	sess    *session.Session
	router  http.Handler
	lamp    model.Product
}

// newFixture routes every request to one visitor session, the way
// session.Manager.Middleware would for a single browser.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddUser("Ana", "ana@example.com", "pw", model.RoleCustomer)
	srv.AddUser("Root", "root@example.com", "pw", model.RoleAdmin)

	logger := testLogger()
	client, err := backend.New(srv.URL, logger)
	require.NoError(t, err)
	listener, err := inventory.NewListener(srv.URL, logger)
	require.NoError(t, err)

	s := session.New(context.Background(), "visitor-1", storage.NewMemory(), client, cart.NewKeyedMutex(), logger)
	t.Cleanup(s.Close)

	authH := handler.NewAuthHandler(logger)
	cartH := handler.NewCartHandler(logger)
	accountH := handler.NewAccountHandler()
	catalogH := handler.NewCatalogHandler(client)
	adminH := handler.NewAdminHandler(logger)
	invH := handler.NewInventoryHandler(client, listener, []string{"http://localhost:3000"}, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(session.NewContext(req.Context(), s)))
		})
	})
	r.Post("/api/auth/login", authH.HandleLogin)
	r.Post("/api/auth/register", authH.HandleRegister)
	r.Post("/api/auth/logout", authH.HandleLogout)
	r.Get("/api/me", authH.HandleMe)
	r.Get("/api/cart", cartH.HandleGet)
	r.Get("/api/cart/count", cartH.HandleCount)
	r.Post("/api/cart/items", cartH.HandleAdd)
	r.Put("/api/cart/items/{productId}", cartH.HandleUpdate)
	r.Delete("/api/cart/items/{productId}", cartH.HandleRemove)
	r.Post("/api/checkout", cartH.HandleCheckout)
	r.Group(func(r chi.Router) {
		r.Use(session.RequireAuth(handler.WriteError))
		r.Get("/api/wishlist", accountH.HandleWishlist)
		r.Get("/api/wishlist/{productId}", accountH.HandleWishlistStatus)
		r.Post("/api/wishlist/{productId}", accountH.HandleWishlistAdd)
		r.Delete("/api/wishlist/{productId}", accountH.HandleWishlistRemove)
		r.Get("/api/orders", accountH.HandleOrders)
		r.Get("/api/orders/{id}", accountH.HandleOrder)
		r.Get("/api/profile", accountH.HandleProfile)
	})
	r.Get("/api/categories", catalogH.HandleCategories)
	r.Get("/api/products", catalogH.HandleProducts)
	r.Get("/api/products/search", catalogH.HandleSearch)
	r.Get("/api/products/{id}", catalogH.HandleProduct)
	r.Group(func(r chi.Router) {
		r.Use(session.RequireAdmin(handler.WriteError))
		r.Post("/api/admin/categories", adminH.HandleCreateCategory)
		r.Post("/api/admin/products", adminH.HandleCreateProduct)
		r.Put("/api/admin/products/{id}", adminH.HandleUpdateProduct)
	})
	r.Get("/ws/inventory/{productId}", invH.HandleRelay)

	return &fixture{
		backend: srv,
		sess:    s,
		router:  r,
		lamp:    srv.AddProduct(model.Product{Name: "Lamp", Price: 20, Stock: 5}),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, email string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuth_LoginMeLogout(t *testing.T) {
	f := newFixture(t)

	me := decode[handler.MeResponse](t, f.do(t, http.MethodGet, "/api/me", nil))
	assert.False(t, me.Authenticated)

	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	me = decode[handler.MeResponse](t, rec)
	assert.True(t, me.Authenticated)
	assert.Equal(t, "Ana", me.Name)
	assert.Equal(t, model.RoleCustomer, me.Role)
	assert.NotContains(t, rec.Body.String(), "token")

	rec = f.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[handler.MeResponse](t, rec).Authenticated)
}

func TestAuth_LoginErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"wrong password", map[string]string{"email": "ana@example.com", "password": "nope"}, http.StatusUnauthorized, "unauthorized"},
		{"missing email", map[string]string{"password": "pw"}, http.StatusBadRequest, "validation_error"},
		{"not json", "{{", http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/auth/login", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode[handler.ErrorResponse](t, rec).Error)
		})
	}
}

func TestAuth_Register(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/register", map[string]string{"name": "Bo", "email": "bo@example.com", "password": "pw"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "bo@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name", decode[handler.ErrorResponse](t, rec).Field)
}

func TestCart_Lifecycle(t *testing.T) {
	f := newFixture(t)
	pid := f.lamp.ID.String()

	rec := f.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": pid})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[model.CartItem](t, rec).Quantity)

	assert.Equal(t, 1, decode[handler.CountResponse](t, f.do(t, http.MethodGet, "/api/cart/count", nil)).Count)

	rec = f.do(t, http.MethodPut, "/api/cart/items/"+pid, map[string]int{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.CartItem](t, rec).Quantity, "quantities below one are clamped")

	rec = f.do(t, http.MethodPut, "/api/cart/items/"+pid, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	c := decode[model.Cart](t, f.do(t, http.MethodGet, "/api/cart", nil))
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)

	rec = f.do(t, http.MethodDelete, "/api/cart/items/"+pid, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.sess.CartCount())
}

func TestCart_AddValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": f.lamp.ID, "quantity": -2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cart/items", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCart_CountDegradesToZero(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": f.lamp.ID})
	f.backend.Fail("GET /carts/{id}", http.StatusInternalServerError)

	rec := f.do(t, http.MethodGet, "/api/cart/count", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[handler.CountResponse](t, rec).Count)
}

func TestCart_BackendDownIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("POST /carts", http.StatusServiceUnavailable)

	rec := f.do(t, http.MethodGet, "/api/cart", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "backend_unavailable", decode[handler.ErrorResponse](t, rec).Error)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/checkout", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.login(t, "ana@example.com")
	rec = f.do(t, http.MethodPost, "/api/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cart is empty", decode[handler.ErrorResponse](t, rec).Message)

	f.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": f.lamp.ID})
	rec = f.do(t, http.MethodPost, "/api/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[model.CheckoutSession](t, rec).CheckoutURL, "https://pay.example/")
}

func TestWishlist(t *testing.T) {
	f := newFixture(t)
	pid := f.lamp.ID.String()

	rec := f.do(t, http.MethodGet, "/api/wishlist", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized: Please login.", decode[handler.ErrorResponse](t, rec).Message)

	f.login(t, "ana@example.com")
	assert.False(t, decode[handler.WishlistStatus](t, f.do(t, http.MethodGet, "/api/wishlist/"+pid, nil)).InWishlist)

	rec = f.do(t, http.MethodPost, "/api/wishlist/"+pid, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/wishlist/"+pid, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Product is already in your wishlist.", decode[handler.ErrorResponse](t, rec).Message)

	assert.True(t, decode[handler.WishlistStatus](t, f.do(t, http.MethodGet, "/api/wishlist/"+pid, nil)).InWishlist)
	assert.Len(t, decode[[]model.WishlistItem](t, f.do(t, http.MethodGet, "/api/wishlist", nil)), 1)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/wishlist/"+pid, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/wishlist/"+pid, nil).Code)
}

func TestAccount_RejectedTokenLogsOut(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ana@example.com")
	f.backend.Revoke(f.sess.Identity().Token)

	rec := f.do(t, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.sess.Identity().Authenticated())

	rec = f.do(t, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccount_Orders(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ana@example.com")
	userID := f.sess.Identity().UserID
	o := f.backend.AddOrder(userID, model.Order{Status: "PAID", TotalPrice: 20})
	other := f.backend.AddOrder("someone-else", model.Order{Status: "PAID"})

	assert.Len(t, decode[[]model.Order](t, f.do(t, http.MethodGet, "/api/orders", nil)), 1)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/orders/"+o.ID.String(), nil).Code)

	rec := f.do(t, http.MethodGet, "/api/orders/"+other.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied to this order.", decode[handler.ErrorResponse](t, rec).Message)
	assert.False(t, f.sess.Identity().Authenticated(), "a 403 for the current token logs the visitor out")
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	cat := f.backend.AddCategory(model.Category{Name: "Lighting"})
	f.backend.AddProduct(model.Product{Name: "Desk lamp", CategoryID: cat.ID, Stock: 1})

	assert.Len(t, decode[[]model.Category](t, f.do(t, http.MethodGet, "/api/categories", nil)), 1)
	assert.Len(t, decode[[]model.Product](t, f.do(t, http.MethodGet, "/api/products", nil)), 2)
	assert.Len(t, decode[[]model.Product](t, f.do(t, http.MethodGet, "/api/products?categoryId="+cat.ID.String(), nil)), 1)
	assert.Len(t, decode[[]model.Product](t, f.do(t, http.MethodGet, "/api/products/search?q=lamp", nil)), 2)

	assert.Empty(t, decode[[]model.Product](t, f.do(t, http.MethodGet, "/api/products/search?q=+", nil)))
	assert.Equal(t, 1, f.backend.Calls("GET /products/search"), "blank search does not reach the backend")

	rec := f.do(t, http.MethodGet, "/api/products/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Product not found.", decode[handler.ErrorResponse](t, rec).Message)
}

func multipartBody(t *testing.T, part string, dto any, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if dto != nil {
		b, err := json.Marshal(dto)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField(part, string(b)))
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "lamp.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("png-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *fixture) form(t *testing.T, method, path, part string, dto any, withFile bool) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, part, dto, withFile)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_Forms(t *testing.T) {
	f := newFixture(t)
	product := model.ProductInput{Name: "Chair", Price: 40, Stock: 2, CategoryID: "1"}

	rec := f.form(t, http.MethodPost, "/api/admin/products", "product", product, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.login(t, "ana@example.com")
	rec = f.form(t, http.MethodPost, "/api/admin/products", "product", product, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.do(t, http.MethodPost, "/api/auth/logout", nil)
	f.login(t, "root@example.com")

	rec = f.form(t, http.MethodPost, "/api/admin/products", "product", product, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Product](t, rec)
	assert.Equal(t, "Chair", created.Name)
	assert.Equal(t, []string{"product", "file"}, f.backend.Parts("POST /products"))

	rec = f.form(t, http.MethodPost, "/api/admin/products", "product", product, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "new products need an image")

	rec = f.form(t, http.MethodPost, "/api/admin/products", "product", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "product", decode[handler.ErrorResponse](t, rec).Field)

	product.Stock = 7
	rec = f.form(t, http.MethodPut, "/api/admin/products/"+created.ID.String(), "product", product, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, decode[model.Product](t, rec).Stock)

	rec = f.form(t, http.MethodPost, "/api/admin/categories", "category", model.CategoryInput{Name: "Seating"}, true)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
