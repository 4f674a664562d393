package httpapi

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smartpos/internal/domain"
	"smartpos/internal/imagestore"
	"smartpos/internal/service"
	"smartpos/internal/store/memory"
)

func newImageAPI(t *testing.T) (*API, string) {
	t.Helper()
	dir := t.TempDir()
	images, err := imagestore.New(dir)
	if err != nil {
		t.Fatalf("image store: %v", err)
	}
	repo := memory.NewSeeded()
	svc := service.New(repo, service.WithImageStore(images))
	return New(svc, NewAuthManager("test-secret-key", time.Hour, repo), "*"), images.Dir()
}

type formFile struct {
	name string
	body []byte
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// callMultipart sends fields and files as a multipart form with auth and
// CSRF headers.
func callMultipart(t *testing.T, api *API, method, path, token string, fields map[string]string, files []formFile) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(imageFormField, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.body); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleStock_MultipartImages(t *testing.T) {
	api, dir := newImageAPI(t)
	staff := loginAs(t, api, "staff", "staff123")
	manager := loginAs(t, api, "manager", "manager123")
	pic := samplePNG(t)

	rec := callMultipart(t, api, http.MethodPost, "/api/v1/stock", staff,
		map[string]string{"name": "Desk Lamp", "price": "12.50", "cost_price": "7", "quantity": "4", "category_id": "1"},
		[]formFile{{"front.png", pic}, {"back.png", pic}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[domain.StockItem](t, rec)
	if created.Name != "desk lamp" || created.Quantity != 4 || len(created.Images) != 2 {
		t.Fatalf("unexpected created item %+v", created)
	}

	get := httptest.NewRequest(http.MethodGet, "/stock-images/"+created.Images[0], nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, get)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for image, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if !bytes.Equal(res.Body.Bytes(), pic) {
		t.Fatalf("served image differs from upload")
	}

	rec = callMultipart(t, api, http.MethodPut, "/api/v1/stock/"+itoa(created.ID), staff,
		map[string]string{"name": "desk lamp", "price": "12.50", "quantity": "4", "images_to_delete": `["` + created.Images[0] + `"]`},
		nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	updated := decodeBody[domain.StockItem](t, rec)
	if len(updated.Images) != 1 || updated.Images[0] != created.Images[1] {
		t.Fatalf("expected only the second image kept, got %v", updated.Images)
	}
	if _, err := os.Stat(filepath.Join(dir, created.Images[0])); !os.IsNotExist(err) {
		t.Fatalf("expected dropped image file removed, stat err %v", err)
	}

	rec = call(t, api, http.MethodDelete, "/api/v1/stock/"+itoa(created.ID), manager, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(dir, created.Images[1])); !os.IsNotExist(err) {
		t.Fatalf("expected image file removed on delete, stat err %v", err)
	}
	rec = call(t, api, http.MethodGet, "/stock-images/"+created.Images[1], "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for removed image, got %d", rec.Code)
	}
}

func TestHandleStock_MultipartRejectsBadInput(t *testing.T) {
	api, dir := newImageAPI(t)
	staff := loginAs(t, api, "staff", "staff123")

	rec := callMultipart(t, api, http.MethodPost, "/api/v1/stock", staff,
		map[string]string{"name": "Desk Lamp", "price": "cheap", "quantity": "four"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "price must be a number; quantity must be a whole number" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = callMultipart(t, api, http.MethodPost, "/api/v1/stock", staff,
		map[string]string{"name": "Desk Lamp", "price": "3"}, []formFile{{"notes.png", []byte("not an image at all")}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-image upload, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no stored files, got %d", len(entries))
	}
}

func TestHandleStockImage_RejectsTraversal(t *testing.T) {
	api, _ := newImageAPI(t)

	for _, path := range []string{"/stock-images/..%2Fsecret", "/stock-images/.upload-123", "/stock-images/missing.png"} {
		rec := call(t, api, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}
