package srvreg

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ahmadzakiakmal/agroforward/client"
	"github.com/ahmadzakiakmal/agroforward/forecast"
	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/service"
)

// ContractAPI is the slice of the contract service the gateway handlers use.
type ContractAPI interface {
	CreateContract(ctx context.Context, farmer, commodity string, quantity, pricePerUnit uint64, deliveryDate time.Time) (*service.CreateResult, error)
	SignAsBuyer(ctx context.Context, buyer string, id uint64) (*service.SignResult, error)
	GetContract(ctx context.Context, id uint64, strong bool) (*ledger.Contract, error)
	ListByFarmer(ctx context.Context, addr string) ([]*ledger.Contract, error)
	ListByBuyer(ctx context.Context, addr string) ([]*ledger.Contract, error)
	Status(ctx context.Context) (*client.NodeStatus, error)
}

// Forecaster is the advisory price model surface exposed over HTTP.
type Forecaster interface {
	Predict(commodity string, days int) (*forecast.Prediction, error)
	Historical(commodity string, days int) ([]forecast.PricePoint, error)
	Commodities() []string
	ReloadFrom(r io.Reader) error
}

// CreateContractRequest is the body of POST /contracts.
type CreateContractRequest struct {
	FarmerAddress string `json:"farmer_address"`
	Commodity     string `json:"commodity"`
	Quantity      uint64 `json:"quantity"`
	PricePerUnit  uint64 `json:"price_per_unit"`
	DeliveryDate  string `json:"delivery_date"`
}

// SignContractRequest is the body of POST /contracts/:id/sign.
type SignContractRequest struct {
	BuyerAddress string `json:"buyer_address"`
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Commodity string `json:"commodity"`
	Days      int    `json:"days"`
}

// contractView is the HTTP shape of a contract record.
type contractView struct {
	ContractID   uint64 `json:"contract_id"`
	Farmer       string `json:"farmer"`
	Buyer        string `json:"buyer,omitempty"`
	Commodity    string `json:"commodity"`
	Quantity     uint64 `json:"quantity"`
	PricePerUnit uint64 `json:"price_per_unit"`
	TotalValue   uint64 `json:"total_value"`
	DeliveryDate string `json:"delivery_date"`
	FarmerSigned bool   `json:"farmer_signed"`
	BuyerSigned  bool   `json:"buyer_signed"`
	Settled      bool   `json:"settled"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func viewOf(c *ledger.Contract) contractView {
	return contractView{
		ContractID:   c.ID,
		Farmer:       c.Farmer,
		Buyer:        c.Buyer,
		Commodity:    c.Commodity,
		Quantity:     c.Quantity,
		PricePerUnit: c.PricePerUnit,
		TotalValue:   c.TotalValue(),
		DeliveryDate: time.Unix(c.DeliveryDate, 0).UTC().Format("2006-01-02"),
		FarmerSigned: c.FarmerSigned,
		BuyerSigned:  c.BuyerSigned,
		Settled:      c.Settled,
		Status:       c.Status(),
		CreatedAt:    time.Unix(c.CreatedAt, 0).UTC().Format(time.RFC3339),
	}
}

// CreateContractHandler handles POST /contracts.
func (sr *ServiceRegistry) CreateContractHandler(ctx context.Context, req *Request) (*Response, error) {
	var body CreateContractRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("invalid JSON body: " + err.Error()), nil
	}
	if body.FarmerAddress == "" {
		return badRequest("farmer_address is required"), nil
	}
	deliveryDate, err := time.Parse("2006-01-02", body.DeliveryDate)
	if err != nil {
		return badRequest("delivery_date must be YYYY-MM-DD"), nil
	}

	result, err := sr.svc.CreateContract(ctx, body.FarmerAddress, body.Commodity, body.Quantity, body.PricePerUnit, deliveryDate)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	sr.logger.Info("Contract created", "contract_id", result.ContractID, "farmer", body.FarmerAddress, "request_id", req.RequestID)
	return jsonResponse(http.StatusCreated, result), nil
}

// SignContractHandler handles POST /contracts/:id/sign.
func (sr *ServiceRegistry) SignContractHandler(ctx context.Context, req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return badRequest("invalid contract id"), nil
	}

	var body SignContractRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("invalid JSON body: " + err.Error()), nil
	}
	if body.BuyerAddress == "" {
		return badRequest("buyer_address is required"), nil
	}

	result, err := sr.svc.SignAsBuyer(ctx, body.BuyerAddress, id)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}

	sr.logger.Info("Contract signed", "contract_id", id, "buyer", body.BuyerAddress, "settled", result.Settled, "request_id", req.RequestID)
	return jsonResponse(http.StatusOK, result), nil
}

// GetContractHandler handles GET /contracts/:id. The consistency=strong query
// parameter forces a direct ledger read instead of the mirror.
func (sr *ServiceRegistry) GetContractHandler(ctx context.Context, req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return badRequest("invalid contract id"), nil
	}
	strong := queryParam(req.Path, "consistency") == "strong"

	c, err := sr.svc.GetContract(ctx, id, strong)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, viewOf(c)), nil
}

// ListByFarmerHandler handles GET /contracts/farmer/:address.
func (sr *ServiceRegistry) ListByFarmerHandler(ctx context.Context, req *Request) (*Response, error) {
	addr := pathPart(req.Path, 3)
	if addr == "" {
		return badRequest("missing farmer address"), nil
	}

	contracts, err := sr.svc.ListByFarmer(ctx, addr)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, listPayload(addr, contracts)), nil
}

// ListByBuyerHandler handles GET /contracts/buyer/:address.
func (sr *ServiceRegistry) ListByBuyerHandler(ctx context.Context, req *Request) (*Response, error) {
	addr := pathPart(req.Path, 3)
	if addr == "" {
		return badRequest("missing buyer address"), nil
	}

	contracts, err := sr.svc.ListByBuyer(ctx, addr)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, listPayload(addr, contracts)), nil
}

func listPayload(addr string, contracts []*ledger.Contract) map[string]any {
	views := make([]contractView, 0, len(contracts))
	for _, c := range contracts {
		views = append(views, viewOf(c))
	}
	return map[string]any{
		"address":   addr,
		"count":     len(views),
		"contracts": views,
	}
}

// StatusHandler handles GET /status.
func (sr *ServiceRegistry) StatusHandler(ctx context.Context, req *Request) (*Response, error) {
	status, err := sr.svc.Status(ctx)
	if err != nil {
		return sr.errorResponse(req, err), nil
	}
	return jsonResponse(http.StatusOK, status), nil
}

// PredictHandler handles POST /predict.
func (sr *ServiceRegistry) PredictHandler(_ context.Context, req *Request) (*Response, error) {
	var body PredictRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("invalid JSON body: " + err.Error()), nil
	}
	if body.Days == 0 {
		body.Days = 7
	}
	if body.Days < 1 || body.Days > 30 {
		return badRequest("days must be between 1 and 30"), nil
	}

	prediction, err := sr.model.Predict(body.Commodity, body.Days)
	if err != nil {
		return sr.forecastError(err), nil
	}
	return jsonResponse(http.StatusOK, prediction), nil
}

// HistoricalHandler handles GET /historical?commodity=&days=.
func (sr *ServiceRegistry) HistoricalHandler(_ context.Context, req *Request) (*Response, error) {
	commodity := queryParam(req.Path, "commodity")
	if commodity == "" {
		return badRequest("commodity query parameter is required"), nil
	}
	days := 30
	if raw := queryParam(req.Path, "days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest("days must be a positive integer"), nil
		}
		days = parsed
	}

	points, err := sr.model.Historical(commodity, days)
	if err != nil {
		return sr.forecastError(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"commodity": commodity,
		"count":     len(points),
		"prices":    points,
	}), nil
}

// UploadPricesHandler handles POST /prices, replacing the price history with
// the uploaded CSV.
func (sr *ServiceRegistry) UploadPricesHandler(_ context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Body) == "" {
		return badRequest("request body must contain CSV data"), nil
	}

	if err := sr.model.ReloadFrom(strings.NewReader(req.Body)); err != nil {
		return badRequest(err.Error()), nil
	}

	sr.logger.Info("Price history replaced", "commodities", len(sr.model.Commodities()), "request_id", req.RequestID)
	return jsonResponse(http.StatusOK, map[string]any{
		"message":     "price history updated",
		"commodities": sr.model.Commodities(),
	}), nil
}

// errorResponse maps a service error onto the HTTP surface. A confirmation
// timeout is indeterminate, so it maps to 202 Accepted with the transaction
// hash for out-of-band polling rather than any definite failure status.
func (sr *ServiceRegistry) errorResponse(req *Request, err error) *Response {
	svcErr, ok := err.(*service.Error)
	if !ok {
		sr.logger.Error("Unclassified handler error", "err", err, "request_id", req.RequestID)
		return errorBody(http.StatusInternalServerError, service.ErrCodeInternal, err.Error(), "", "")
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case service.ErrCodeValidation:
		status = http.StatusBadRequest
	case service.ErrCodeUnauthorizedSigner:
		status = http.StatusForbidden
	case service.ErrCodeNotFound:
		status = http.StatusNotFound
	case service.ErrCodeRejectedByNode:
		status = http.StatusConflict
	case service.ErrCodeLedgerUnavailable:
		status = http.StatusServiceUnavailable
	case service.ErrCodeConfirmationTimeout:
		status = http.StatusAccepted
	}

	if status >= 500 {
		sr.logger.Error("Request failed", "code", svcErr.Code, "err", svcErr.Message, "request_id", req.RequestID)
	}
	return errorBody(status, svcErr.Code, svcErr.Message, svcErr.Detail, svcErr.TxHash)
}

func (sr *ServiceRegistry) forecastError(err error) *Response {
	if strings.Contains(err.Error(), "no price data") {
		return errorBody(http.StatusNotFound, service.ErrCodeNotFound, err.Error(), "", "")
	}
	return badRequest(err.Error())
}

func errorBody(status int, code, message, detail, txHash string) *Response {
	payload := map[string]string{"code": code, "error": message}
	if detail != "" {
		payload["detail"] = detail
	}
	if txHash != "" {
		payload["tx_hash"] = txHash
	}
	body, _ := json.Marshal(payload)
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

func badRequest(msg string) *Response {
	return errorBody(http.StatusBadRequest, service.ErrCodeValidation, msg, "", "")
}

func jsonResponse(status int, payload any) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return errorBody(http.StatusInternalServerError, service.ErrCodeInternal, "failed to encode response", err.Error(), "")
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

// pathID extracts a numeric path segment, e.g. the id in /contracts/42/sign.
func pathID(path string, index int) (uint64, bool) {
	part := pathPart(path, index)
	if part == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(part, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func pathPart(path string, index int) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if index >= len(parts) {
		return ""
	}
	return parts[index]
}

func queryParam(path, key string) string {
	u, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
