package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/src/model"
	"signalengine/src/picks"
	"signalengine/src/portfolio"
)

type fakeLedger struct {
	positions  map[uint]*model.Position
	listStatus string
	opened     []portfolio.OpenRequest
	closed     []string
	closeErr   error
	autoPrices map[string]float64
	snapPrices map[string]float64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{positions: map[uint]*model.Position{
		1: {ID: 1, Symbol: "BTC/USDT", Side: model.PositionSideLong, EntryPrice: 100, StopPrice: 90, TargetPrice: 120, Quantity: 1, Status: model.PositionStatusOpen},
	}}
}

func (f *fakeLedger) List(_ context.Context, status string, _ int) ([]model.Position, error) {
	f.listStatus = status
	var out []model.Position
	for _, p := range f.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeLedger) Get(_ context.Context, id uint) (*model.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return nil, portfolio.ErrPositionNotFound
	}
	return p, nil
}

func (f *fakeLedger) Open(_ context.Context, req portfolio.OpenRequest) (*model.Position, error) {
	if req.Quantity <= 0 {
		return nil, portfolio.ErrInvalidInput
	}
	f.opened = append(f.opened, req)
	p := &model.Position{ID: uint(len(f.positions) + 1), Symbol: req.Symbol, Note: req.Note}
	f.positions[p.ID] = p
	return p, nil
}

func (f *fakeLedger) Close(_ context.Context, id uint, _ float64, note string) (float64, error) {
	if f.closeErr != nil {
		return 0, f.closeErr
	}
	if _, ok := f.positions[id]; !ok {
		return 0, portfolio.ErrPositionNotFound
	}
	f.closed = append(f.closed, note)
	return 12.5, nil
}

func (f *fakeLedger) OpenPositions(context.Context) ([]model.Position, error) {
	return f.List(context.Background(), model.PositionStatusOpen, 0)
}

func (f *fakeLedger) Snapshot(_ context.Context, capital float64, prices map[string]float64) (*portfolio.Snapshot, error) {
	f.snapPrices = prices
	return &portfolio.Snapshot{Capital: capital, Equity: capital, OpenPositions: len(f.positions)}, nil
}

func (f *fakeLedger) AutoClose(_ context.Context, prices map[string]float64) ([]portfolio.AutoCloseResult, error) {
	f.autoPrices = prices
	return nil, nil
}

type fakePrices map[string]float64

func (f fakePrices) LastPrice(_ context.Context, symbol string) (float64, error) {
	if p, ok := f[symbol]; ok {
		return p, nil
	}
	return 0, errors.New("no price")
}

type fakePicks struct {
	last     *picks.Run
	symbols  []string
	accepted []string
	err      error
}

func (f *fakePicks) Generate(_ context.Context, symbols []string) (*picks.Run, error) {
	f.symbols = symbols
	if f.err != nil {
		return nil, f.err
	}
	f.last = &picks.Run{ID: "run-1", Candidates: []picks.Candidate{{ID: "c1", Symbol: "BTC/USDT"}}}
	return f.last, nil
}

func (f *fakePicks) Accept(_ context.Context, ids []string) ([]model.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.accepted = ids
	return []model.Position{{ID: 7, Symbol: "BTC/USDT"}}, nil
}

func (f *fakePicks) Last() *picks.Run { return f.last }

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestListPositionsHandler(t *testing.T) {
	ledger := newFakeLedger()
	rr := httptest.NewRecorder()
	ListPositionsHandler(ledger).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions?status=OPEN", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OPEN", ledger.listStatus)
	var got []model.Position
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 1)

	rr = httptest.NewRecorder()
	ListPositionsHandler(ledger).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPositionHandler(t *testing.T) {
	ledger := newFakeLedger()

	rr := httptest.NewRecorder()
	GetPositionHandler(ledger).ServeHTTP(rr, withID(httptest.NewRequest(http.MethodGet, "/positions/1", nil), "1"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	GetPositionHandler(ledger).ServeHTTP(rr, withID(httptest.NewRequest(http.MethodGet, "/positions/9", nil), "9"))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	GetPositionHandler(ledger).ServeHTTP(rr, withID(httptest.NewRequest(http.MethodGet, "/positions/x", nil), "x"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOpenPositionHandler(t *testing.T) {
	ledger := newFakeLedger()

	body := `{"symbol":"ETH/USDT","side":"LONG","entry":10,"stop":9,"target":13,"quantity":2}`
	rr := httptest.NewRecorder()
	OpenPositionHandler(ledger).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, ledger.opened, 1)
	assert.Equal(t, portfolio.NoteManual, ledger.opened[0].Note)

	rr = httptest.NewRecorder()
	OpenPositionHandler(ledger).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(`{"bogus":1}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	OpenPositionHandler(ledger).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(`{"symbol":"ETH/USDT"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClosePositionHandler(t *testing.T) {
	ledger := newFakeLedger()

	rr := httptest.NewRecorder()
	req := withID(httptest.NewRequest(http.MethodPost, "/positions/1/close", strings.NewReader(`{"exit_price":112.5}`)), "1")
	ClosePositionHandler(ledger).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp closeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 12.5, resp.PnL)
	assert.Equal(t, []string{portfolio.NoteManual}, ledger.closed)

	ledger.closeErr = portfolio.ErrPositionClosed
	rr = httptest.NewRecorder()
	req = withID(httptest.NewRequest(http.MethodPost, "/positions/1/close", strings.NewReader(`{"exit_price":1}`)), "1")
	ClosePositionHandler(ledger).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	ledger.closeErr = errors.New("disk on fire")
	rr = httptest.NewRecorder()
	req = withID(httptest.NewRequest(http.MethodPost, "/positions/1/close", strings.NewReader(`{"exit_price":1}`)), "1")
	ClosePositionHandler(ledger).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk on fire")
}

func TestPortfolioHandlers(t *testing.T) {
	ledger := newFakeLedger()
	prices := fakePrices{"BTC/USDT": 110}

	rr := httptest.NewRecorder()
	PortfolioHandler(ledger, prices, 5000).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/portfolio", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]float64{"BTC/USDT": 110}, ledger.snapPrices)
	var snap portfolio.Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, 5000.0, snap.Capital)

	rr = httptest.NewRecorder()
	RefreshHandler(ledger, prices, 5000).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/portfolio/refresh", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]float64{"BTC/USDT": 110}, ledger.autoPrices)
	var resp refreshResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Empty(t, resp.Closed)
	require.NotNil(t, resp.Snapshot)
}

func TestPicksHandlers(t *testing.T) {
	svc := &fakePicks{}

	rr := httptest.NewRecorder()
	LastPicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/picks/last", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	GeneratePicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, svc.symbols)

	rr = httptest.NewRecorder()
	GeneratePicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks", strings.NewReader(`{"symbols":["eth/usdt"]}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"eth/usdt"}, svc.symbols)

	rr = httptest.NewRecorder()
	LastPicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/picks/last", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var run picks.Run
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, "run-1", run.ID)

	rr = httptest.NewRecorder()
	AcceptPicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks/accept", strings.NewReader(`{"ids":["c1"]}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, []string{"c1"}, svc.accepted)

	rr = httptest.NewRecorder()
	AcceptPicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks/accept", strings.NewReader(`{"ids":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.err = picks.ErrUnknownCandidate
	rr = httptest.NewRecorder()
	AcceptPicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks/accept", strings.NewReader(`{"ids":["zz"]}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	svc.err = picks.ErrNoSymbols
	rr = httptest.NewRecorder()
	GeneratePicksHandler(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/picks", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
