// Package backendtest provides an in-memory storefront backend for tests.
//
// Server speaks the same REST and WebSocket contracts as the real backend,
// signs its tokens with HS256 and lets a test inject failures per route.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/storefront/internal/model"
)

var secret = []byte("backendtest-secret")

type user struct {
	id       string
	name     string
	email    string
	password string
	role     model.Role
}

// Server is a fake storefront backend.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	nextID     int
	users      map[string]*user // by email
	carts      map[string]*model.Cart
	products   map[string]model.Product
	categories []model.Category
	wishlists  map[string]map[string]model.WishlistItem // userID → productID
	orders     map[string][]model.Order                 // userID
	revoked    map[string]bool
	failures   map[string]int
	calls      map[string]int
	lastAuth   map[string]string
	uploads    map[string][]string // route → multipart part names

	feedMu   sync.Mutex
	feeds    map[string]map[*websocket.Conn]struct{}
	feedCond *sync.Cond
	upgrader websocket.Upgrader
}

// New starts a Server. It is closed with t.Cleanup by the caller.
func New() *Server {
	s := &Server{
		users:     make(map[string]*user),
		carts:     make(map[string]*model.Cart),
		products:  make(map[string]model.Product),
		wishlists: make(map[string]map[string]model.WishlistItem),
		orders:    make(map[string][]model.Order),
		revoked:   make(map[string]bool),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
		lastAuth:  make(map[string]string),
		uploads:   make(map[string][]string),
		feeds:     make(map[string]map[*websocket.Conn]struct{}),
	}
	s.feedCond = sync.NewCond(&s.feedMu)
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Close disconnects feed subscribers and shuts the server down.
func (s *Server) Close() {
	s.feedMu.Lock()
	for _, conns := range s.feeds {
		for c := range conns {
			c.Close()
		}
	}
	s.feedMu.Unlock()
	s.Server.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	s.handle(r, http.MethodPost, "/auth/login", s.login)
	s.handle(r, http.MethodPost, "/users", s.register)
	s.handle(r, http.MethodGet, "/profile", s.authed(s.profile))

	s.handle(r, http.MethodPost, "/carts", s.createCart)
	s.handle(r, http.MethodGet, "/carts/{id}", s.getCart)
	s.handle(r, http.MethodPost, "/carts/{id}/items", s.addItem)
	s.handle(r, http.MethodPut, "/carts/{id}/items/{productId}", s.updateItem)
	s.handle(r, http.MethodDelete, "/carts/{id}/items/{productId}", s.removeItem)

	s.handle(r, http.MethodGet, "/wishlist", s.authed(s.wishlist))
	s.handle(r, http.MethodPost, "/wishlist/{productId}", s.authed(s.addWishlist))
	s.handle(r, http.MethodDelete, "/wishlist/{productId}", s.authed(s.removeWishlist))

	s.handle(r, http.MethodGet, "/orders", s.authed(s.listOrders))
	s.handle(r, http.MethodGet, "/orders/{id}", s.authed(s.getOrder))
	s.handle(r, http.MethodPost, "/checkout", s.authed(s.checkout))

	s.handle(r, http.MethodGet, "/categories", s.listCategories)
	s.handle(r, http.MethodPost, "/categories", s.admin(s.createCategory))
	s.handle(r, http.MethodGet, "/products", s.listProducts)
	s.handle(r, http.MethodGet, "/products/search", s.search)
	s.handle(r, http.MethodGet, "/products/{id}", s.getProduct)
	s.handle(r, http.MethodPost, "/products", s.admin(s.createProduct))
	s.handle(r, http.MethodPut, "/products/{id}", s.admin(s.updateProduct))

	r.Get("/ws/inventory/{productId}", s.inventoryFeed)
	return r
}

// handle registers fn for method+pattern, recording calls and serving
// injected failures first.
func (s *Server) handle(r chi.Router, method, pattern string, fn http.HandlerFunc) {
	route := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		s.lastAuth[route] = req.Header.Get("Authorization")
		status, fail := s.failures[route]
		s.mu.Unlock()
		if fail {
			writeError(w, status, http.StatusText(status))
			return
		}
		fn(w, req)
	}))
}

// Fail makes every later request to route ("METHOD /pattern") answer status.
func (s *Server) Fail(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = status
}

// Recover removes an injected failure.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Calls returns how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// LastAuthorization returns the Authorization header of the latest request
// to route.
func (s *Server) LastAuthorization(route string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth[route]
}

// Parts returns the multipart part names of the latest upload to route.
func (s *Server) Parts(route string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads[route]...)
}

// =========================================================================
// FIXTURES
// =========================================================================

// AddUser registers an account and returns its id.
func (s *Server) AddUser(name, email, password string, role model.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(name, email, password, role).id
}

func (s *Server) addUserLocked(name, email, password string, role model.Role) *user {
	u := &user{id: s.newIDLocked(), name: name, email: email, password: password, role: role}
	s.users[email] = u
	return u
}

// AddProduct adds a catalog product and returns it with its id.
func (s *Server) AddProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = model.ID(s.newIDLocked())
	}
	s.products[p.ID.String()] = p
	return p
}

// AddCategory adds a catalog category and returns it with its id.
func (s *Server) AddCategory(c model.Category) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = model.ID(s.newIDLocked())
	}
	s.categories = append(s.categories, c)
	return c
}

// AddOrder stores an order for userID.
func (s *Server) AddOrder(userID string, o model.Order) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = model.ID(s.newIDLocked())
	}
	s.orders[userID] = append(s.orders[userID], o)
	return o
}

// NewCart creates a cart holding one unit of each product and returns its id.
func (s *Server) NewCart(productIDs ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.Cart{ID: model.ID(s.newIDLocked()), Items: []model.CartItem{}}
	for _, pid := range productIDs {
		p, ok := s.products[pid]
		if !ok {
			p = model.Product{ID: model.ID(pid), Name: "product " + pid, Price: 1}
		}
		c.Items = append(c.Items, model.CartItem{Product: p, Quantity: 1, TotalPrice: p.Price})
	}
	s.recalcLocked(c)
	s.carts[c.ID.String()] = c
	return c.ID.String()
}

// Cart returns a copy of a stored cart.
func (s *Server) Cart(id string) (model.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		return model.Cart{}, false
	}
	cp := *c
	cp.Items = append([]model.CartItem(nil), c.Items...)
	return cp, true
}

// Product returns a stored product.
func (s *Server) Product(id string) (model.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Wishlisted reports whether userID saved productID.
func (s *Server) Wishlisted(userID, productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wishlists[userID][productID]
	return ok
}

// Issue signs a token for the given claims. Empty values are omitted.
func (s *Server) Issue(sub string, role model.Role, name string) string {
	claims := jwt.MapClaims{"iat": time.Now().Unix()}
	if sub != "" {
		claims["sub"] = sub
	}
	if role != "" {
		claims["role"] = string(role)
	}
	if name != "" {
		claims["name"] = name
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic(fmt.Sprintf("backendtest: signing token: %v", err))
	}
	return tok
}

// Revoke makes the backend answer 401 to token.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *Server) recalcLocked(c *model.Cart) {
	var total float64
	for i := range c.Items {
		c.Items[i].TotalPrice = c.Items[i].Product.Price * float64(c.Items[i].Quantity)
		total += c.Items[i].TotalPrice
	}
	c.TotalPrice = total
}

// =========================================================================
// AUTH
// =========================================================================

type principal struct {
	userID string
	role   model.Role
}

type principalKey struct{}

// verify returns the caller's principal. ok is false for a missing token.
func (s *Server) verify(r *http.Request) (principal, bool, error) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		return principal{}, false, nil
	}
	s.mu.Lock()
	revoked := s.revoked[raw]
	s.mu.Unlock()
	if revoked {
		return principal{}, true, errors.New("token revoked")
	}

	var mc jwt.MapClaims
	_, err := jwt.ParseWithClaims(raw, &mc, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return principal{}, true, err
	}
	sub, _ := mc.GetSubject()
	role, _ := mc["role"].(string)
	return principal{userID: sub, role: model.Role(role)}, true, nil
}

func (s *Server) authed(fn func(http.ResponseWriter, *http.Request, principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, present, err := s.verify(r)
		if !present || err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		fn(w, r, p)
	}
}

func (s *Server) admin(fn func(http.ResponseWriter, *http.Request, principal)) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, p principal) {
		if p.role != model.RoleAdmin {
			writeError(w, http.StatusForbidden, "Access Denied")
			return
		}
		fn(w, r, p)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	u, ok := s.users[in.Email]
	s.mu.Unlock()
	if !ok || u.password != in.Password {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.Issue(u.id, u.role, u.name)})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.Email]; exists {
		writeError(w, http.StatusBadRequest, "Email is already registered.")
		return
	}
	u := s.addUserLocked(in.Name, in.Email, in.Password, model.RoleCustomer)
	writeJSON(w, http.StatusCreated, model.Profile{ID: model.ID(u.id), Name: u.name, Email: u.email})
}

func (s *Server) profile(w http.ResponseWriter, _ *http.Request, p principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.id == p.userID {
			writeJSON(w, http.StatusOK, model.Profile{ID: model.ID(u.id), Name: u.name, Email: u.email})
			return
		}
	}
	writeError(w, http.StatusNotFound, "user not found")
}

// =========================================================================
// CARTS
// =========================================================================

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	if _, present, err := s.verify(r); present && err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id := s.NewCart()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	if _, present, err := s.verify(r); present && err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c, ok := s.Cart(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProductID model.ID `json:"productId"`
		Quantity  int      `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "invalid item")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	p, ok := s.products[in.ProductID.String()]
	if !ok {
		writeError(w, http.StatusBadRequest, "Product not found")
		return
	}
	for i := range c.Items {
		if c.Items[i].Product.ID == p.ID {
			c.Items[i].Quantity += in.Quantity
			s.recalcLocked(c)
			writeJSON(w, http.StatusOK, c.Items[i])
			return
		}
	}
	c.Items = append(c.Items, model.CartItem{Product: p, Quantity: in.Quantity})
	s.recalcLocked(c)
	writeJSON(w, http.StatusCreated, c.Items[len(c.Items)-1])
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	pid := chi.URLParam(r, "productId")
	for i := range c.Items {
		if c.Items[i].Product.ID.String() == pid {
			c.Items[i].Quantity = in.Quantity
			s.recalcLocked(c)
			writeJSON(w, http.StatusOK, c.Items[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "Product not found in the cart")
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	pid := chi.URLParam(r, "productId")
	for i := range c.Items {
		if c.Items[i].Product.ID.String() == pid {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			s.recalcLocked(c)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Product not found in the cart")
}

// =========================================================================
// WISHLIST, ORDERS, CHECKOUT
// =========================================================================

func (s *Server) wishlist(w http.ResponseWriter, _ *http.Request, p principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []model.WishlistItem{}
	for _, it := range s.wishlists[p.userID] {
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) addWishlist(w http.ResponseWriter, r *http.Request, p principal) {
	pid := chi.URLParam(r, "productId")
	s.mu.Lock()
	defer s.mu.Unlock()
	prod, ok := s.products[pid]
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	if s.wishlists[p.userID] == nil {
		s.wishlists[p.userID] = make(map[string]model.WishlistItem)
	}
	if _, dup := s.wishlists[p.userID][pid]; dup {
		writeError(w, http.StatusConflict, "duplicate")
		return
	}
	item := model.WishlistItem{Product: prod}
	s.wishlists[p.userID][pid] = item
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) removeWishlist(w http.ResponseWriter, r *http.Request, p principal) {
	pid := chi.URLParam(r, "productId")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wishlists[p.userID][pid]; !ok {
		writeError(w, http.StatusNotFound, "missing")
		return
	}
	delete(s.wishlists[p.userID], pid)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listOrders(w http.ResponseWriter, _ *http.Request, p principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := append([]model.Order{}, s.orders[p.userID]...)
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request, p principal) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, orders := range s.orders {
		for _, o := range orders {
			if o.ID.String() != id {
				continue
			}
			if owner != p.userID {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeError(w, http.StatusNotFound, "missing")
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request, _ principal) {
	var in struct {
		CartID model.ID `json:"cartId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c, ok := s.Cart(in.CartID.String())
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	if len(c.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	writeJSON(w, http.StatusOK, model.CheckoutSession{CheckoutURL: "https://pay.example/session/" + in.CartID.String()})
}

// =========================================================================
// CATALOG
// =========================================================================

func (s *Server) listCategories(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]model.Category{}, s.categories...))
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	cat := r.URL.Query().Get("categoryId")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Product{}
	for _, p := range s.products {
		if cat == "" || p.CategoryID.String() == cat {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Product{}
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Product(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "missing")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// readForm decodes the JSON part named part and reports whether a file part
// was sent.
func (s *Server) readForm(r *http.Request, route, part string, dto any) (bool, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return false, err
	}
	var names []string
	var hasFile, hasDTO bool
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
		names = append(names, p.FormName())
		switch p.FormName() {
		case part:
			if err := json.NewDecoder(p).Decode(dto); err != nil {
				return false, err
			}
			hasDTO = true
		case "file":
			if _, err := io.Copy(io.Discard, p); err != nil {
				return false, err
			}
			hasFile = true
		}
	}
	s.mu.Lock()
	s.uploads[route] = names
	s.mu.Unlock()
	if !hasDTO {
		return false, fmt.Errorf("missing %s part", part)
	}
	return hasFile, nil
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request, _ principal) {
	var in model.CategoryInput
	hasFile, err := s.readForm(r, "POST /categories", "category", &in)
	if err != nil || !hasFile {
		writeError(w, http.StatusBadRequest, "category and file are required")
		return
	}
	c := s.AddCategory(model.Category{Name: in.Name, ImageURL: "/images/" + in.Name})
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request, _ principal) {
	var in model.ProductInput
	hasFile, err := s.readForm(r, "POST /products", "product", &in)
	if err != nil || !hasFile {
		writeError(w, http.StatusBadRequest, "product and file are required")
		return
	}
	p := s.AddProduct(model.Product{
		Name: in.Name, Description: in.Description, Price: in.Price,
		Stock: in.Stock, CategoryID: model.ID(in.CategoryID), ImageURL: "/images/" + in.Name,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request, _ principal) {
	id := chi.URLParam(r, "id")
	var in model.ProductInput
	hasFile, err := s.readForm(r, "PUT /products/{id}", "product", &in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		writeError(w, http.StatusNotFound, "missing")
		return
	}
	p.Name, p.Description, p.Price, p.Stock = in.Name, in.Description, in.Price, in.Stock
	p.CategoryID = model.ID(in.CategoryID)
	if hasFile {
		p.ImageURL = "/images/" + in.Name
	}
	s.products[id] = p
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": status, "message": msg})
}
