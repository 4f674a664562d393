package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
	"smartpos/internal/service"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = 48 << 20
	multipartMemory  = 8 << 20
	imageFormField   = "files"
)

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// stockUpload is a decoded stock create or update request. Close releases
// the uploaded files and any temporary copies on disk.
type stockUpload struct {
	req     domain.StockRequest
	uploads []service.ImageUpload
	files   []multipart.File
	form    *multipart.Form
}

func (u *stockUpload) Close() {
	for _, f := range u.files {
		_ = f.Close()
	}
	if u.form != nil {
		_ = u.form.RemoveAll()
	}
}

// decodeStockRequest reads a stock body sent either as JSON or as a
// multipart form whose image files come in the "files" field.
func decodeStockRequest(r *http.Request) (*stockUpload, error) {
	u := &stockUpload{}
	if !isMultipart(r) {
		if err := decodeJSON(r, &u.req); err != nil {
			return nil, err
		}
		return u, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, &requestError{message: "request body is too large"}
		}
		return nil, &requestError{message: "invalid multipart body: " + err.Error()}
	}
	u.form = r.MultipartForm

	fields := map[string]string{}
	u.req = stockRequestFromForm(r.MultipartForm.Value, fields)
	if len(fields) > 0 {
		u.Close()
		return nil, fieldErrors(fields)
	}
	if err := validate.Struct(&u.req); err != nil {
		u.Close()
		return nil, formatValidationErrors(err)
	}

	for _, fh := range r.MultipartForm.File[imageFormField] {
		f, err := fh.Open()
		if err != nil {
			u.Close()
			return nil, &requestError{message: "cannot read uploaded file " + fh.Filename}
		}
		u.files = append(u.files, f)
		u.uploads = append(u.uploads, service.ImageUpload{Filename: fh.Filename, Body: f})
	}
	return u, nil
}

// stockRequestFromForm maps form values onto a StockRequest. Values that do
// not parse are reported in fields by their form name.
func stockRequestFromForm(values map[string][]string, fields map[string]string) domain.StockRequest {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	dec := func(key string) decimal.Decimal {
		raw := get(key)
		if raw == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			fields[key] = "must be a number"
		}
		return d
	}

	req := domain.StockRequest{
		Name:              get("name"),
		Description:       get("description"),
		Price:             dec("price"),
		CostPrice:         dec("cost_price"),
		DiscountPercent:   dec("discount_percent"),
		ArrivalDate:       get("arrival_date"),
		DiscountStartDate: get("discount_start_date"),
		DiscountEndDate:   get("discount_end_date"),
	}
	if raw := get("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields["quantity"] = "must be a whole number"
		}
		req.Quantity = n
	}
	if raw := get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["category_id"] = "must be a whole number"
		} else {
			req.CategoryID = &id
		}
	}

	// images_to_delete is a JSON array in one field or the field repeated.
	for _, raw := range values["images_to_delete"] {
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "[") {
			var names []string
			if err := json.Unmarshal([]byte(raw), &names); err != nil {
				fields["images_to_delete"] = "must be a JSON array of image names"
				continue
			}
			req.ImagesToDelete = append(req.ImagesToDelete, names...)
		} else if raw != "" {
			req.ImagesToDelete = append(req.ImagesToDelete, raw)
		}
	}
	return req
}

func fieldErrors(fields map[string]string) error {
	parts := make([]string, 0, len(fields))
	for name, msg := range fields {
		parts = append(parts, name+" "+msg)
	}
	sort.Strings(parts)
	return &requestError{message: strings.Join(parts, "; "), fields: fields}
}

// handleStockImage serves a stored stock image. Image links are public so
// they can be used directly as img sources.
func (a *API) handleStockImage(w http.ResponseWriter, r *http.Request) {
	f, err := a.service.OpenStockImage(chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
