package server

import (
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/query"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxRequestBody = 1 << 20

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code     string `json:"code"`
	GRPCCode string `json:"grpc_code"`
	Message  string `json:"message"`
}

type errorStatus struct {
	grpc codes.Code
	http int
}

var errorStatuses = map[string]errorStatus{
	query.CodeInvalidRequest:    {codes.InvalidArgument, http.StatusBadRequest},
	query.CodeInvalidPosition:   {codes.InvalidArgument, http.StatusBadRequest},
	query.CodeNotFound:          {codes.NotFound, http.StatusNotFound},
	query.CodeMalformedSnapshot: {codes.FailedPrecondition, http.StatusUnprocessableEntity},
	query.CodeTimeout:           {codes.DeadlineExceeded, http.StatusGatewayTimeout},
	query.CodeInternal:          {codes.Internal, http.StatusInternalServerError},
}

// StatusFor maps a service error onto its gRPC code and HTTP status.
func StatusFor(err error) (string, codes.Code, int) {
	code := query.ErrorCode(err)
	st := errorStatuses[code]
	return code, st.grpc, st.http
}

func registerRoutes(mux *runtime.ServeMux, qs *query.QueryService) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/tokens", tokensHandler(qs)},
		{http.MethodGet, "/v1/accounts/{account}/positions", positionsHandler(qs)},
		{http.MethodGet, "/v1/accounts/{account}/positions/{key}", positionHandler(qs)},
		{http.MethodPost, "/v1/leverage", leverageHandler(qs)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func tokensHandler(qs *query.QueryService) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		resp, err := qs.GetTokens(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func positionsHandler(qs *query.QueryService) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		opts, err := valuationOptions(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		resp, err := qs.GetPositions(r.Context(), params["account"], opts)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func positionHandler(qs *query.QueryService) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		opts, err := valuationOptions(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		resp, err := qs.GetPosition(r.Context(), params["account"], params["key"], opts)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func leverageHandler(qs *query.QueryService) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var req query.LeverageRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			fail(w, r, fmt.Errorf("%w: body: %v", query.ErrInvalidRequest, err))
			return
		}
		resp, err := qs.PreviewLeverage(r.Context(), req)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// valuationOptions reads show_pnl_after_fees and include_delta.
func valuationOptions(r *http.Request) (position.Options, error) {
	var opts position.Options
	q := r.URL.Query()
	for name, dst := range map[string]*bool{
		"show_pnl_after_fees": &opts.ShowPnlAfterFees,
		"include_delta":       &opts.IncludeDelta,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("%w: %s=%q", query.ErrInvalidRequest, name, raw)
		}
		*dst = v
	}
	return opts, nil
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	code, grpcCode, httpStatus := StatusFor(err)
	writeJSON(w, httpStatus, ErrorBody{
		Code:     code,
		GRPCCode: grpcCode.String(),
		Message:  err.Error(),
	})
}

// errorHandler renders errors raised inside the gateway mux itself.
func (s *Server) errorHandler(ctx context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	st, ok := status.FromError(err)
	if !ok {
		fail(w, r, err)
		return
	}
	httpStatus := runtime.HTTPStatusFromCode(st.Code())
	if httpStatus >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("gateway error")
	}
	writeJSON(w, httpStatus, ErrorBody{
		Code:     gatewayCode(st.Code()),
		GRPCCode: st.Code().String(),
		Message:  st.Message(),
	})
}

func (s *Server) routingErrorHandler(ctx context.Context, mux *runtime.ServeMux, m runtime.Marshaler, w http.ResponseWriter, r *http.Request, httpStatus int) {
	switch httpStatus {
	case http.StatusNotFound:
		s.errorHandler(ctx, mux, m, w, r, status.Error(codes.NotFound, http.StatusText(httpStatus)))
	case http.StatusMethodNotAllowed:
		writeJSON(w, httpStatus, ErrorBody{
			Code:     "method_not_allowed",
			GRPCCode: codes.Unimplemented.String(),
			Message:  http.StatusText(httpStatus),
		})
	case http.StatusBadRequest:
		s.errorHandler(ctx, mux, m, w, r, status.Error(codes.InvalidArgument, http.StatusText(httpStatus)))
	default:
		s.errorHandler(ctx, mux, m, w, r, status.Error(codes.Internal, "unexpected routing error"))
	}
}

func gatewayCode(c codes.Code) string {
	switch c {
	case codes.NotFound:
		return query.CodeNotFound
	case codes.InvalidArgument:
		return query.CodeInvalidRequest
	case codes.DeadlineExceeded:
		return query.CodeTimeout
	default:
		return query.CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, httpStatus int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}
