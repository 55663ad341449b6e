package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// CreateCategory creates a category. The image is required.
func (c *Client) CreateCategory(ctx context.Context, in model.CategoryInput, token string) (*model.Category, error) {
	if in.Image == nil {
		return nil, apperror.ValidationFailed("file", "category image is required")
	}
	body, contentType, err := multipartForm("category", in, in.Image)
	if err != nil {
		return nil, err
	}
	var cat model.Category
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/categories",
		token:       token,
		body:        body,
		contentType: contentType,
	}, &cat)
	if err != nil {
		return nil, fmt.Errorf("backend: creating category %q: %w", in.Name, err)
	}
	return &cat, nil
}

// CreateProduct creates a product. The image is required.
func (c *Client) CreateProduct(ctx context.Context, in model.ProductInput, token string) (*model.Product, error) {
	if in.Image == nil {
		return nil, apperror.ValidationFailed("file", "product image is required")
	}
	body, contentType, err := multipartForm("product", in, in.Image)
	if err != nil {
		return nil, err
	}
	var p model.Product
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/products",
		token:       token,
		body:        body,
		contentType: contentType,
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("backend: creating product %q: %w", in.Name, err)
	}
	return &p, nil
}

// UpdateProduct edits a product. A nil image keeps the current one.
func (c *Client) UpdateProduct(ctx context.Context, productID string, in model.ProductInput, token string) (*model.Product, error) {
	body, contentType, err := multipartForm("product", in, in.Image)
	if err != nil {
		return nil, err
	}
	var p model.Product
	err = c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/products/" + escape(productID),
		token:       token,
		body:        body,
		contentType: contentType,
		messages:    map[int]string{http.StatusNotFound: "Product not found."},
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("backend: updating product %s: %w", productID, err)
	}
	return &p, nil
}

// multipartForm encodes dto as a JSON part named part, followed by an
// optional "file" part.
func multipartForm(part string, dto any, file *model.Upload) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, part))
	h.Set("Content-Type", "application/json")
	pw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("backend: creating %s part: %w", part, err)
	}
	if err := json.NewEncoder(pw).Encode(dto); err != nil {
		return nil, "", fmt.Errorf("backend: encoding %s part: %w", part, err)
	}

	if file != nil {
		name := file.Filename
		if name == "" {
			name = "upload"
		}
		fw, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, "", fmt.Errorf("backend: creating file part: %w", err)
		}
		if _, err := fw.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("backend: writing file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("backend: closing multipart form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
