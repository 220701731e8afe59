package report

import (
	"net/http"

	"go.uber.org/zap"
)

// HTTPService serves the report, it is rendered from the ledger on every
// request.
type HTTPService struct {
	store  Store
	logger *zap.Logger
}

func NewHTTPService(store Store) *HTTPService {
	return &HTTPService{
		store:  store,
		logger: zap.L().Named(loggerName).Named("http_service"),
	}
}

func (h *HTTPService) RegisterHandlers(mux *http.ServeMux, endpoint string) {
	mux.HandleFunc(endpoint, h.HandlerHTML)
	mux.HandleFunc(endpoint+"report.txt", h.HandlerText)
}

func (h *HTTPService) render(respWr http.ResponseWriter, req *http.Request) *Rendered {
	r, err := Render(req.Context(), h.store)
	if err != nil {
		h.logger.Info("rendering report failed", zap.Error(err))
		http.Error(respWr, err.Error(), http.StatusInternalServerError)
		return nil
	}

	return r
}

func (h *HTTPService) HandlerHTML(respWr http.ResponseWriter, req *http.Request) {
	r := h.render(respWr, req)
	if r == nil {
		return
	}

	respWr.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := respWr.Write(r.HTML); err != nil {
		h.logger.Info("sending http response failed", zap.Error(err))
	}
}

func (h *HTTPService) HandlerText(respWr http.ResponseWriter, req *http.Request) {
	r := h.render(respWr, req)
	if r == nil {
		return
	}

	respWr.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := respWr.Write([]byte(r.Text)); err != nil {
		h.logger.Info("sending http response failed", zap.Error(err))
	}
}
