package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/medimate/internal/middleware"
	"github.com/hitoshi/medimate/internal/model"
)

// MedicineServiceInterface は薬ハンドラーが必要とするサービスインターフェース。
type MedicineServiceInterface interface {
	AddMedicine(ctx context.Context, m *model.Medicine) (*model.Medicine, error)
	GetAllMedicinesByUser(ctx context.Context, userID string) ([]*model.Medicine, error)
	// GetMedicineByID は見つからない場合に (nil, nil) を返す。
	GetMedicineByID(ctx context.Context, id string) (*model.Medicine, error)
	UpdateMedicine(ctx context.Context, id string, values *model.Medicine) (*model.Medicine, error)
	DeleteMedicine(ctx context.Context, id string) error
	GetExpiredMedicines(ctx context.Context, userID string) ([]*model.Medicine, error)
	GetMedicinesExpiringSoon(ctx context.Context, userID string) ([]*model.Medicine, error)
	GetLowStockMedicines(ctx context.Context, userID string, threshold *int) ([]*model.Medicine, error)
	SearchMedicinesByName(ctx context.Context, userID, name string) ([]*model.Medicine, error)
}

// MedicineHandler は薬在庫のHTTPハンドラー。
type MedicineHandler struct {
	service MedicineServiceInterface
}

// NewMedicineHandler はMedicineHandlerを生成する。
func NewMedicineHandler(service MedicineServiceInterface) *MedicineHandler {
	return &MedicineHandler{service: service}
}

// 日付のワイヤーフォーマット
const (
	expiryDateLayout = time.DateOnly
	addedDateLayout  = time.RFC3339
)

// medicineRequest は薬の登録・更新リクエストのボディ。
// 更新時はuserIdを無視する。quantityは省略もnullも許さない。
type medicineRequest struct {
	Name       string `json:"name"`
	Quantity   *int   `json:"quantity"`
	ExpiryDate string `json:"expiryDate"`
	UserID     string `json:"userId"`
}

// medicineResponse は薬のAPIレスポンス。
type medicineResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiryDate"`
	AddedDate  string `json:"addedDate"`
	UserID     string `json:"userId"`
}

func toMedicineResponse(m *model.Medicine) medicineResponse {
	resp := medicineResponse{
		ID:         m.ID,
		Name:       m.Name,
		Quantity:   m.Quantity,
		ExpiryDate: m.ExpiryDate.Format(expiryDateLayout),
		UserID:     m.UserID,
	}
	if !m.AddedDate.IsZero() {
		resp.AddedDate = m.AddedDate.Format(addedDateLayout)
	}
	return resp
}

// toMedicineListResponse は空でもnullではなく空配列を返す。
func toMedicineListResponse(meds []*model.Medicine) []medicineResponse {
	resp := make([]medicineResponse, 0, len(meds))
	for _, m := range meds {
		resp = append(resp, toMedicineResponse(m))
	}
	return resp
}

// decodeMedicineRequest はボディをパースしてMedicineを組み立てる。
// パースできない場合はメッセージを返す。
func decodeMedicineRequest(r *http.Request) (*model.Medicine, string) {
	var req medicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "リクエストボディが不正です。"
	}
	if req.Quantity == nil {
		return nil, "quantityを指定してください。"
	}

	m := &model.Medicine{
		Name:     req.Name,
		Quantity: *req.Quantity,
		UserID:   strings.TrimSpace(req.UserID),
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse(expiryDateLayout, req.ExpiryDate)
		if err != nil {
			return nil, "expiryDateはYYYY-MM-DD形式で指定してください。"
		}
		m.ExpiryDate = expiry
	}
	return m, ""
}

// AddMedicine は薬の登録を処理する。
// POST /api/medicines
func (h *MedicineHandler) AddMedicine(w http.ResponseWriter, r *http.Request) {
	m, msg := decodeMedicineRequest(r)
	if m == nil {
		middleware.WriteBadRequest(w, msg)
		return
	}
	// ボディにuserIdがなければクエリのuserIdを使う
	if m.UserID == "" {
		if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
			m.UserID = userID
		}
	}

	saved, err := h.service.AddMedicine(r.Context(), m)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMedicineResponse(saved))
}

// ListMedicines はユーザーの薬一覧を返す。
// GET /api/medicines?userId=
func (h *MedicineHandler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.GetAllMedicinesByUser(r.Context(), requestUserID(r))
	writeListResult(w, meds, err)
}

// GetMedicine は薬を1件返す。
// GET /api/medicines/{id}
func (h *MedicineHandler) GetMedicine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.service.GetMedicineByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if m == nil {
		handleServiceError(w, model.NewMedicineNotFoundError("GetMedicineByID", id))
		return
	}

	writeJSON(w, http.StatusOK, toMedicineResponse(m))
}

// UpdateMedicine は薬の名前・数量・使用期限を更新する。
// PUT /api/medicines/{id}
func (h *MedicineHandler) UpdateMedicine(w http.ResponseWriter, r *http.Request) {
	m, msg := decodeMedicineRequest(r)
	if m == nil {
		middleware.WriteBadRequest(w, msg)
		return
	}

	updated, err := h.service.UpdateMedicine(r.Context(), chi.URLParam(r, "id"), m)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMedicineResponse(updated))
}

// DeleteMedicine は薬を削除する。
// DELETE /api/medicines/{id}
func (h *MedicineHandler) DeleteMedicine(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMedicine(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExpired は期限切れの薬を返す。
// GET /api/medicines/expired?userId=
func (h *MedicineHandler) ListExpired(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.GetExpiredMedicines(r.Context(), requestUserID(r))
	writeListResult(w, meds, err)
}

// ListExpiringSoon は期限間近の薬を返す。
// GET /api/medicines/expiring-soon?userId=
func (h *MedicineHandler) ListExpiringSoon(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.GetMedicinesExpiringSoon(r.Context(), requestUserID(r))
	writeListResult(w, meds, err)
}

// ListLowStock は在庫が閾値未満の薬を返す。thresholdを省略した場合はサービスのデフォルトを使う。
// GET /api/medicines/low-stock?userId=&threshold=
func (h *MedicineHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	var threshold *int
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteBadRequest(w, "thresholdは整数で指定してください。")
			return
		}
		threshold = &n
	}

	meds, err := h.service.GetLowStockMedicines(r.Context(), requestUserID(r), threshold)
	writeListResult(w, meds, err)
}

// Search は名前の部分一致で薬を検索する。
// GET /api/medicines/search?userId=&name=
func (h *MedicineHandler) Search(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.SearchMedicinesByName(r.Context(), requestUserID(r), r.URL.Query().Get("name"))
	writeListResult(w, meds, err)
}

// requestUserID はユーザースコープミドルウェアが注入したuserIdを返す。
// 未指定の場合は空文字を返し、検証はサービスに任せる。
func requestUserID(r *http.Request) string {
	userID, _ := middleware.UserIDFromContext(r.Context())
	return userID
}

func writeListResult(w http.ResponseWriter, meds []*model.Medicine, err error) {
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicineListResponse(meds))
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= http.StatusInternalServerError {
			slog.Error("medicine request failed",
				slog.String("op", apiErr.Op),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidArgument, middleware.ErrCodeBadRequest:
		return http.StatusBadRequest
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
