package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/model"
	"github.com/smarttrash/classifier/internal/predict"
)

// ModelControl is the part of the model registry exposed over HTTP.
type ModelControl interface {
	State() model.State
	Reload() (model.State, error)
}

type Handler struct {
	service   *predict.Service
	model     ModelControl
	maxUpload int64
	log       *logrus.Entry
}

func NewHandler(service *predict.Service, m ModelControl, maxUpload int64, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		service:   service,
		model:     m,
		maxUpload: maxUpload,
		log:       log.WithField("component", "http"),
	}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(h.log), CORS())

	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
	r.POST("/model/reload", h.Reload)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"model":  h.model.State().String(),
		"mode":   h.service.Mode(),
	})
}

// Predict accepts a multipart upload in the "file" field ("image" is
// accepted as well) and always answers with a result object.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	header, err := formFile(c, "file", "image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File troppo grande"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nessun file caricato: usa il campo 'file'"})
		return
	}

	data, err := readUpload(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Impossibile leggere il file caricato"})
		return
	}

	upload := predict.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	result := h.service.Predict(c.Request.Context(), upload)

	entry := requestLog(c, h.log).WithFields(logrus.Fields{
		"filename":   header.Filename,
		"size":       len(data),
		"bin":        result.Bin,
		"confidence": result.Confidence,
	})
	if result.Error != "" {
		entry.WithField("error", result.Error).Warn("prediction degraded")
	} else {
		entry.Info("prediction")
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Reload(c *gin.Context) {
	st, err := h.model.Reload()
	body := gin.H{"model": st.String(), "mode": h.service.Mode()}
	if err != nil {
		body["error"] = err.Error()
	}
	requestLog(c, h.log).WithField("model", st.String()).Info("model reload requested")
	c.JSON(http.StatusOK, body)
}

func formFile(c *gin.Context, fields ...string) (*multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fields {
		header, err := c.FormFile(field)
		if err == nil {
			return header, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
