package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/etl"
	"github.com/catastro-enricher/internal/geojson"
	"github.com/catastro-enricher/internal/refcat"
)

// Pipeline is the processing side of the upload front end. *etl.Pipeline
// implements it.
type Pipeline interface {
	Process(ctx context.Context, in io.Reader, out io.Writer) (*etl.ProcessStats, error)
	MergeGeoJSON(ctx context.Context, table io.Reader, doc []byte, opts geojson.Options) (*geojson.Result, error)
	UpdateYears(ctx context.Context, table io.Reader, doc []byte, opts geojson.Options) (*geojson.Result, error)
}

// UploadHandler serves the upload form and the three processing endpoints
type UploadHandler struct {
	Pipeline     Pipeline
	Log          *zap.Logger
	MaxUpload    int64 // bytes
	MergeOptions geojson.Options
	YearOptions  geojson.Options
	Now          func() time.Time
}

// Form renders the upload page
func (h *UploadHandler) Form(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, uploadPage)
}

// Process enriches an uploaded table and returns it as a CSV download
func (h *UploadHandler) Process(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	file, _, ok := h.formFile(w, r, "csvfile")
	if !ok {
		return
	}
	defer file.Close()

	var out bytes.Buffer
	stats, err := h.Pipeline.Process(r.Context(), file, &out)
	if err != nil {
		h.fail(w, "process", err)
		return
	}

	name := fmt.Sprintf("resultado_%d.csv", h.now().Unix())
	h.Log.Info("Archivo procesado", zap.String("download", name), zap.Int("rows", stats.Rows), zap.Int("resolved", stats.Resolved))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(out.Bytes())
}

// MergeGeoJSON writes years and streets from an uploaded table into an
// uploaded FeatureCollection
func (h *UploadHandler) MergeGeoJSON(w http.ResponseWriter, r *http.Request) {
	h.merge(w, r, "merge-geojson", h.Pipeline.MergeGeoJSON, h.MergeOptions)
}

// UpdateJSON writes only construction years into an uploaded FeatureCollection
func (h *UploadHandler) UpdateJSON(w http.ResponseWriter, r *http.Request) {
	h.merge(w, r, "update-json", h.Pipeline.UpdateYears, h.YearOptions)
}

type mergeFunc func(ctx context.Context, table io.Reader, doc []byte, opts geojson.Options) (*geojson.Result, error)

func (h *UploadHandler) merge(w http.ResponseWriter, r *http.Request, op string, fn mergeFunc, opts geojson.Options) {
	if !h.parseForm(w, r) {
		return
	}
	table, _, ok := h.formFile(w, r, "csvfile")
	if !ok {
		return
	}
	defer table.Close()

	jsonFile, header, ok := h.formFile(w, r, "jsonfile")
	if !ok {
		return
	}
	defer jsonFile.Close()

	doc, err := io.ReadAll(jsonFile)
	if err != nil {
		http.Error(w, "Error al leer el archivo JSON", http.StatusBadRequest)
		return
	}

	res, err := fn(r.Context(), table, doc, opts)
	if err != nil {
		h.fail(w, op, err)
		return
	}

	name := geojson.OutputPath(filepath.Base(header.Filename))
	h.Log.Info("JSON actualizado",
		zap.String("download", name),
		zap.Int("features", res.Stats.Features),
		zap.Int("matched", res.Stats.Matched))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(res.Document)
}

func (h *UploadHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.MaxUpload {
		http.Error(w, "El archivo es demasiado grande", http.StatusRequestEntityTooLarge)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload)
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "El archivo es demasiado grande", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Formulario no válido", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *UploadHandler) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error al subir el archivo (%s)", field), http.StatusBadRequest)
		return nil, nil, false
	}
	return file, header, true
}

// fail answers with a short message; the details stay in the log
func (h *UploadHandler) fail(w http.ResponseWriter, op string, err error) {
	h.Log.Error("Error en el procesamiento", zap.String("op", op), zap.Error(err))

	status := http.StatusInternalServerError
	switch refcat.KindOf(err) {
	case refcat.KindMissingColumn, refcat.KindNotFeatureCollection, refcat.KindUndecodable,
		refcat.KindNoRecords, refcat.KindMalformedJSON:
		status = http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, "Error en el procesamiento: "+refcat.KindOf(err).String()+". Verifique el archivo de log.", status)
}

func (h *UploadHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

const uploadPage = `<!DOCTYPE html>
<html>
<head>
	<title>Procesador de Referencias Catastrales</title>
	<meta charset="utf-8">
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		form { margin: 20px 0; padding: 10px 0; border-bottom: 1px solid #ddd; }
		input[type="file"], input[type="submit"] { margin: 10px 0; }
	</style>
</head>
<body>
	<h1>Procesador de Referencias Catastrales</h1>

	<form method="post" action="/process" enctype="multipart/form-data">
		<h2>Consultar año y dirección</h2>
		<label>Archivo CSV con una columna "RefCat":</label><br>
		<input type="file" name="csvfile" accept=".csv" required><br>
		<input type="submit" value="Procesar">
		<p>Para referencias múltiples se selecciona el año mayor.</p>
	</form>

	<form method="post" action="/merge-geojson" enctype="multipart/form-data">
		<h2>Actualizar GeoJSON (año y calle)</h2>
		<label>CSV con columnas RefCat, AnnoConstruccion y Direccion:</label><br>
		<input type="file" name="csvfile" accept=".csv" required><br>
		<label>Archivo GeoJSON:</label><br>
		<input type="file" name="jsonfile" accept=".json,.geojson" required><br>
		<input type="submit" value="Actualizar">
	</form>

	<form method="post" action="/update-json" enctype="multipart/form-data">
		<h2>Actualizar solo el año</h2>
		<label>CSV con columnas RefCat y AnnoConstruccion:</label><br>
		<input type="file" name="csvfile" accept=".csv" required><br>
		<label>Archivo JSON:</label><br>
		<input type="file" name="jsonfile" accept=".json,.geojson" required><br>
		<input type="submit" value="Actualizar">
	</form>
</body>
</html>
`
