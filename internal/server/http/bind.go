package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
)

const (
	maxBodyBytes       = 16 << 10
	multipartMaxMemory = 1 << 20
)

// formBinder is implemented by request DTOs that can also be filled from
// urlencoded or multipart form fields.
type formBinder interface {
	bindForm(get func(string) string)
}

func mediaType(r *http.Request) string {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt
}

func isMultipart(r *http.Request) bool {
	return mediaType(r) == "multipart/form-data"
}

// bind decodes a JSON or urlencoded body into dst. An empty body leaves dst
// untouched.
func bind(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	switch mediaType(r) {
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return bodyError(err)
		}
		dst.bindForm(r.PostFormValue)
		return nil
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return bodyError(err)
		}
		dst.bindForm(r.FormValue)
		return nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return common.Validation("Invalid request body", err.Error())
}

// stager writes multipart files into the upload directory.
type stager struct {
	dir     string
	maxSize int64
}

// parse reads a multipart body of at most maxSize bytes.
func (s stager) parse(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxSize)
	if err := r.ParseMultipartForm(multipartMaxMemory); err != nil {
		return bodyError(err)
	}
	return nil
}

// stage copies the file uploaded under field to the upload directory and
// returns its path. A missing file yields "".
func (s stager) stage(r *http.Request, field string) (string, error) {
	f, fh, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", bodyError(err)
	}
	defer f.Close()

	path, err := filex.StageFile(s.dir, fh.Filename, f)
	if err != nil {
		return "", common.Internal(fmt.Sprintf("failed to stage %s", field), err)
	}
	return path, nil
}
