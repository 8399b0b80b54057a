package web

import (
	"encoding/json"
	"net/http"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/web/cors"
)

// maxRequestBody bounds request bodies; call creation requests are tiny.
const maxRequestBody = 1 << 16

// CreateCallRequest is the body of POST /api/v1/calls.
type CreateCallRequest struct {
	ID         string `json:"id,omitempty"`
	CallerID   string `json:"callerId"`
	CalleeID   string `json:"calleeId"`
	CallerName string `json:"callerName,omitempty"`
	CalleeName string `json:"calleeName,omitempty"`
}

// IncomingCallsResponse is the body of GET /api/v1/users/:id/incoming.
type IncomingCallsResponse struct {
	Calls []*call.Record `json:"calls"`
}

// CallsAPI exposes a store over HTTP.
type CallsAPI struct {
	Store  store.Store
	Logger golog.Logger
}

// NewMux returns the routes of the calls API wrapped in panic capture and CORS.
func NewMux(api *CallsAPI, allowedOrigins []string) http.Handler {
	mux := goji.NewMux()
	handle := func(p *pat.Pattern, f APIHandlerFunc) {
		mux.Handle(p, &APIMiddleware{Handler: f, Logger: api.Logger})
	}
	handle(pat.Post("/api/v1/calls"), api.createCall)
	handle(pat.Get("/api/v1/calls/:id"), api.getCall)
	handle(pat.Post("/api/v1/calls/:id/end"), api.endCall)
	handle(pat.Get("/api/v1/users/:id/incoming"), api.incomingCalls)

	capture := &PanicCapture{Logger: api.Logger}
	return cors.New(allowedOrigins).Handler(capture.Middleware(mux))
}

func (api *CallsAPI) createCall(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req CreateCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		return nil, WithStatus(errors.Wrap(err, "invalid request body"), http.StatusBadRequest)
	}
	rec, err := api.Store.CreateCall(r.Context(), &call.Record{
		ID:         req.ID,
		CallerID:   req.CallerID,
		CalleeID:   req.CalleeID,
		CallerName: req.CallerName,
		CalleeName: req.CalleeName,
	})
	if err != nil {
		return nil, err
	}
	api.Logger.Infow("call created", "call_id", rec.ID, "caller_id", rec.CallerID, "callee_id", rec.CalleeID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return rec, nil
}

func (api *CallsAPI) getCall(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return api.Store.GetCall(r.Context(), pat.Param(r, "id"))
}

// endCall is idempotent; ending an ended call succeeds.
func (api *CallsAPI) endCall(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id := pat.Param(r, "id")
	if err := api.Store.UpdateCall(r.Context(), id, call.EndUpdate()); err != nil && !errors.Is(err, call.ErrEnded) {
		return nil, err
	}
	api.Logger.Infow("call ended", "call_id", id)
	return api.Store.GetCall(r.Context(), id)
}

// incomingCalls returns the calls ringing for the user right now.
func (api *CallsAPI) incomingCalls(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	updates, unsubscribe, err := api.Store.ListenIncomingCalls(r.Context(), pat.Param(r, "id"))
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	select {
	case <-r.Context().Done():
		return nil, r.Context().Err()
	case recs, ok := <-updates:
		if !ok {
			return nil, WithStatus(errors.New("incoming call listener closed"), http.StatusServiceUnavailable)
		}
		if recs == nil {
			recs = []*call.Record{}
		}
		return IncomingCallsResponse{Calls: recs}, nil
	}
}
