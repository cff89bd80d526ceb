package srvreg

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/agroforward/client"
	"github.com/ahmadzakiakmal/agroforward/forecast"
	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/service"
)

// fakeAPI implements ContractAPI with canned results.
type fakeAPI struct {
	createResult *service.CreateResult
	createErr    error
	signResult   *service.SignResult
	signErr      error
	contract     *ledger.Contract
	contractErr  error
	list         []*ledger.Contract
	status       *client.NodeStatus

	lastFarmer string
	lastBuyer  string
	lastID     uint64
}

func (f *fakeAPI) CreateContract(_ context.Context, farmer, commodity string, quantity, pricePerUnit uint64, deliveryDate time.Time) (*service.CreateResult, error) {
	f.lastFarmer = farmer
	return f.createResult, f.createErr
}

func (f *fakeAPI) SignAsBuyer(_ context.Context, buyer string, id uint64) (*service.SignResult, error) {
	f.lastBuyer = buyer
	f.lastID = id
	return f.signResult, f.signErr
}

func (f *fakeAPI) GetContract(_ context.Context, id uint64, strong bool) (*ledger.Contract, error) {
	f.lastID = id
	return f.contract, f.contractErr
}

func (f *fakeAPI) ListByFarmer(_ context.Context, addr string) ([]*ledger.Contract, error) {
	f.lastFarmer = addr
	return f.list, nil
}

func (f *fakeAPI) ListByBuyer(_ context.Context, addr string) ([]*ledger.Contract, error) {
	f.lastBuyer = addr
	return f.list, nil
}

func (f *fakeAPI) Status(context.Context) (*client.NodeStatus, error) {
	return f.status, nil
}

// fakeModel implements Forecaster.
type fakeModel struct {
	prediction *forecast.Prediction
	points     []forecast.PricePoint
	err        error
	reloaded   string
}

func (f *fakeModel) Predict(string, int) (*forecast.Prediction, error) {
	return f.prediction, f.err
}

func (f *fakeModel) Historical(string, int) ([]forecast.PricePoint, error) {
	return f.points, f.err
}

func (f *fakeModel) Commodities() []string { return []string{"Soybean"} }

func (f *fakeModel) ReloadFrom(r io.Reader) error {
	bz, _ := io.ReadAll(r)
	f.reloaded = string(bz)
	return f.err
}

func newTestRegistry(api *fakeAPI, model *fakeModel) *ServiceRegistry {
	sr := NewServiceRegistry(api, model, cmtlog.NewNopLogger())
	sr.RegisterDefaultServices()
	return sr
}

func dispatch(t *testing.T, sr *ServiceRegistry, method, path, body string) *Response {
	t.Helper()
	req := &Request{Method: method, Path: path, Body: body, RequestID: "test"}
	resp, err := req.GenerateResponse(context.Background(), sr)
	require.NoError(t, err)
	return resp
}

func TestCreateContractRoute(t *testing.T) {
	api := &fakeAPI{createResult: &service.CreateResult{ContractID: 1, TxHash: "abc", BlockHeight: 10}}
	sr := newTestRegistry(api, &fakeModel{})

	resp := dispatch(t, sr, "POST", "/contracts",
		`{"farmer_address":"F1","commodity":"Soybean","quantity":100,"price_per_unit":500000,"delivery_date":"2026-12-01"}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "F1", api.lastFarmer)

	var result service.CreateResult
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &result))
	assert.Equal(t, uint64(1), result.ContractID)
	assert.Equal(t, "abc", result.TxHash)
}

func TestCreateContractRejectsBadInput(t *testing.T) {
	sr := newTestRegistry(&fakeAPI{}, &fakeModel{})

	resp := dispatch(t, sr, "POST", "/contracts", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = dispatch(t, sr, "POST", "/contracts", `{"commodity":"Soybean","delivery_date":"2026-12-01"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = dispatch(t, sr, "POST", "/contracts", `{"farmer_address":"F1","delivery_date":"01/12/2026"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignContractRoute(t *testing.T) {
	api := &fakeAPI{signResult: &service.SignResult{Settled: true, TotalValue: 50000000, TxHash: "def"}}
	sr := newTestRegistry(api, &fakeModel{})

	resp := dispatch(t, sr, "POST", "/contracts/7/sign", `{"buyer_address":"B1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(7), api.lastID)
	assert.Equal(t, "B1", api.lastBuyer)

	resp = dispatch(t, sr, "POST", "/contracts/abc/sign", `{"buyer_address":"B1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = dispatch(t, sr, "POST", "/contracts/7/sign", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetContractRoute(t *testing.T) {
	api := &fakeAPI{contract: &ledger.Contract{
		ID: 3, Farmer: "F1", Commodity: "Soybean", Quantity: 100, PricePerUnit: 500000,
		DeliveryDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC).Unix(),
		FarmerSigned: true, CreatedAt: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC).Unix(),
	}}
	sr := newTestRegistry(api, &fakeModel{})

	resp := dispatch(t, sr, "GET", "/contracts/3", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &view))
	assert.Equal(t, float64(3), view["contract_id"])
	assert.Equal(t, float64(50000000), view["total_value"])
	assert.Equal(t, "WAITING_FOR_BUYER", view["status"])
	assert.Equal(t, "2026-12-01", view["delivery_date"])
}

func TestListRoutes(t *testing.T) {
	api := &fakeAPI{list: []*ledger.Contract{{ID: 1, Farmer: "F1", FarmerSigned: true}}}
	sr := newTestRegistry(api, &fakeModel{})

	resp := dispatch(t, sr, "GET", "/contracts/farmer/F1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "F1", api.lastFarmer)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &payload))
	assert.Equal(t, float64(1), payload["count"])

	resp = dispatch(t, sr, "GET", "/contracts/buyer/B1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "B1", api.lastBuyer)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code       string
		wantStatus int
	}{
		{service.ErrCodeValidation, http.StatusBadRequest},
		{service.ErrCodeUnauthorizedSigner, http.StatusForbidden},
		{service.ErrCodeNotFound, http.StatusNotFound},
		{service.ErrCodeRejectedByNode, http.StatusConflict},
		{service.ErrCodeLedgerUnavailable, http.StatusServiceUnavailable},
		{service.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		api := &fakeAPI{signErr: &service.Error{Code: tc.code, Message: "boom"}}
		sr := newTestRegistry(api, &fakeModel{})

		resp := dispatch(t, sr, "POST", "/contracts/1/sign", `{"buyer_address":"B1"}`)
		assert.Equal(t, tc.wantStatus, resp.StatusCode, tc.code)

		var body map[string]string
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
		assert.Equal(t, tc.code, body["code"])
	}
}

func TestConfirmationTimeoutMapsToAccepted(t *testing.T) {
	api := &fakeAPI{createErr: &service.Error{
		Code:    service.ErrCodeConfirmationTimeout,
		Message: "outcome unknown",
		TxHash:  "deadbeef",
	}}
	sr := newTestRegistry(api, &fakeModel{})

	resp := dispatch(t, sr, "POST", "/contracts",
		`{"farmer_address":"F1","commodity":"Soybean","quantity":1,"price_per_unit":1,"delivery_date":"2026-12-01"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.Equal(t, "deadbeef", body["tx_hash"])
}

func TestUnknownRoute(t *testing.T) {
	sr := newTestRegistry(&fakeAPI{}, &fakeModel{})

	resp := dispatch(t, sr, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wrong method on a known path.
	resp = dispatch(t, sr, "DELETE", "/contracts/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoricalRoute(t *testing.T) {
	model := &fakeModel{points: []forecast.PricePoint{{Date: "2026-08-30", Price: 100}}}
	sr := newTestRegistry(&fakeAPI{}, model)

	resp := dispatch(t, sr, "GET", "/historical?commodity=Soybean&days=5", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = dispatch(t, sr, "GET", "/historical", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = dispatch(t, sr, "GET", "/historical?commodity=Soybean&days=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPredictRoute(t *testing.T) {
	model := &fakeModel{prediction: &forecast.Prediction{Commodity: "Soybean", Recommendation: "NEUTRAL - Stable prices expected. Consider waiting or hedging moderately."}}
	sr := newTestRegistry(&fakeAPI{}, model)

	resp := dispatch(t, sr, "POST", "/predict", `{"commodity":"Soybean","days":7}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = dispatch(t, sr, "POST", "/predict", `{"commodity":"Soybean","days":31}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPricesRoute(t *testing.T) {
	model := &fakeModel{}
	sr := newTestRegistry(&fakeAPI{}, model)

	csv := "date,commodity,price_per_quintal\n2026-08-01,Soybean,500000\n"
	resp := dispatch(t, sr, "POST", "/prices", csv)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, csv, model.reloaded)

	resp = dispatch(t, sr, "POST", "/prices", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/contracts/:id", "/contracts/5"))
	assert.True(t, matchPath("/contracts/:id/sign", "/contracts/5/sign"))
	assert.False(t, matchPath("/contracts/:id", "/contracts/5/sign"))
	assert.False(t, matchPath("/contracts/:id/sign", "/contracts/5/cancel"))
	assert.False(t, matchPath("/contracts/farmer/:address", "/contracts/buyer/X"))
}
