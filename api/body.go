package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
	"github.com/labstack/echo/v4"

	"board-sync/domain"
)

var (
	errInvalidGzip  = errors.New("invalid gzip body")
	errBodyTooLarge = errors.New("event body too large")
	errNotAnObject  = errors.New("event body is not a JSON object")
)

func gzipEncoded(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// readEventBody returns the posted body, inflating it when the request is
// gzip encoded. limit applies to the inflated bytes.
func readEventBody(req *http.Request, limit int64) ([]byte, error) {
	var r io.Reader = req.Body
	gz := gzipEncoded(req.Header.Get(echo.HeaderContentEncoding))
	if gz {
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			return nil, errInvalidGzip
		}
		defer zr.Close()
		r = zr
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		if gz {
			return nil, errInvalidGzip
		}
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// eventHead is the part of a published event the relay routes on. The
// rest of the body is forwarded untouched.
type eventHead struct {
	Type string
	ID   string
}

func (h eventHead) name() string {
	return domain.Event{Type: h.Type}.Name()
}

// compactEvent validates body as a JSON object and returns it compacted
// together with its type and id. A numeric id is kept in its JSON form;
// other fields are not inspected.
func compactEvent(body []byte) ([]byte, eventHead, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, eventHead{}, err
	}
	data := buf.Bytes()
	if len(data) == 0 || data[0] != '{' {
		return nil, eventHead{}, errNotAnObject
	}
	var head eventHead
	if node, err := sonic.Get(data, "type"); err == nil {
		head.Type, _ = node.StrictString()
	}
	if node, err := sonic.Get(data, "id"); err == nil {
		switch node.TypeSafe() {
		case ast.V_STRING:
			head.ID, _ = node.StrictString()
		case ast.V_NUMBER:
			head.ID, _ = node.Raw()
		}
	}
	return data, head, nil
}
