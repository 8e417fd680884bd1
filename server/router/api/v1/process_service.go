package v1

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/routing"
)

type processTextRequest struct {
	Text string `json:"text"`
}

type processTextBatchRequest struct {
	Texts       []string `json:"texts"`
	Concurrency int      `json:"concurrency"`
}

type batchItemResponse struct {
	Index  int                                                  `json:"index"`
	Result *routing.ProcessingResult[backend.ParsedTransaction] `json:"result,omitempty"`
	Error  string                                               `json:"error,omitempty"`
}

const maxBatchSize = 100

// ProcessText routes a free-text transaction description.
func (s *APIV1Service) ProcessText(c echo.Context) error {
	req := &processTextRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	result, err := s.Router.ProcessText(c.Request().Context(), req.Text)
	if err != nil {
		return processingError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ProcessTextBatch routes several descriptions; per-item failures are reported inline.
func (s *APIV1Service) ProcessTextBatch(c echo.Context) error {
	req := &processTextBatchRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if len(req.Texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "texts is required")
	}
	if len(req.Texts) > maxBatchSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too many texts in one batch")
	}

	items := s.Router.ProcessTextBatch(c.Request().Context(), req.Texts, req.Concurrency)
	resp := make([]batchItemResponse, len(items))
	for i, item := range items {
		resp[i] = batchItemResponse{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			resp[i].Error = item.Err.Error()
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resp})
}

// ProcessImage routes a receipt image sent as a raw body or as the "image" multipart field.
func (s *APIV1Service) ProcessImage(c echo.Context) error {
	data, err := readUpload(c, "image")
	if err != nil {
		return err
	}
	img, err := backend.NewImageInput(data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported image").SetInternal(err)
	}

	result, err := s.Router.ProcessImage(c.Request().Context(), img)
	if err != nil {
		return processingError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ProcessAudio routes a voice clip sent as a raw body or as the "audio" multipart field.
func (s *APIV1Service) ProcessAudio(c echo.Context) error {
	data, err := readUpload(c, "audio")
	if err != nil {
		return err
	}

	result, err := s.Router.ProcessAudio(c.Request().Context(), data)
	if err != nil {
		return processingError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func readUpload(c echo.Context, field string) ([]byte, error) {
	req := c.Request()
	var (
		r   io.Reader = req.Body
		err error
	)
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var fh *multipart.FileHeader
		fh, err = c.FormFile(field)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "missing form file "+field).SetInternal(err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to open upload").SetInternal(err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read upload").SetInternal(err)
	}
	if len(data) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, field+" is required")
	}
	if len(data) > maxUploadBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, field+" too large")
	}
	return data, nil
}
