// Package harlog builds and parses HAR 1.3 log entries: component 4.A
// of the recording proxy. Build turns a materialized request/response
// pair into a one-entry HAR log; Decode turns a one-entry HAR log back
// into a submittable HTTP request.
package harlog

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/sofatutor/park/internal/parkerr"
)

const (
	creatorName    = "park"
	creatorVersion = "0.1.0"
	harVersion     = "1.3"
)

// HAR is the top-level HAR document: a single log carrying exactly one entry.
type HAR struct {
	Log Log `json:"log"`
}

// Log is the HAR log object. Browser and Pages are carried for HAR-1.3
// completeness (§3: "cache, pages, browser fields present but empty")
// even though this proxy never identifies a browser or groups entries
// into pages.
type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Creator `json:"browser"`
	Pages   []Page   `json:"pages"`
	Entries []Entry  `json:"entries"`
}

// Creator identifies the tool that produced the log.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is one captured HTTP transaction.
type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           Cache    `json:"cache"`
	Timings         Timings  `json:"timings"`
}

// Request is the HAR request object.
type Request struct {
	Method      string   `json:"method"`
	URL         string   `json:"url"`
	HTTPVersion string   `json:"httpVersion"`
	Headers     []Header `json:"headers"`
	QueryString []Query  `json:"queryString"`
	PostData    *Data    `json:"postData,omitempty"`
	HeadersSize int64    `json:"headersSize"`
	BodySize    int64    `json:"bodySize"`
	Comment     string   `json:"comment,omitempty"`
}

// Response is the HAR response object.
type Response struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	HTTPVersion string   `json:"httpVersion"`
	Headers     []Header `json:"headers"`
	Content     Content  `json:"content"`
	RedirectURL string   `json:"redirectURL"`
	HeadersSize int64    `json:"headersSize"`
	BodySize    int64    `json:"bodySize"`
	Comment     string   `json:"comment,omitempty"`
}

// Header is an ordered, case-preserved name/value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Query is a parsed query-string parameter.
type Query struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Data is a request body, HAR's "postData" object.
type Data struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Content is a response body descriptor.
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// Cache is left empty; this proxy does no caching (Non-goal).
type Cache struct{}

// Timings holds best-effort timing fields; unmeasured values are zero.
type Timings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Page is HAR-1.3's page-grouping object. Log.Pages is always empty:
// this proxy emits one ungrouped entry per log.
type Page struct{}

// TransactionRequest is the materialized request half of a capture: a
// method, absolute URL, protocol string, ordered headers, and the
// capture-side body bytes (already drained from the tee).
type TransactionRequest struct {
	Method      string
	URL         *url.URL
	HTTPVersion string
	Headers     []Header
	Body        []byte
	Lossy       bool
}

// TransactionResponse is the materialized response half of a capture.
// Status zero means the upstream never returned a head (§9 open question a).
type TransactionResponse struct {
	Status      int
	HTTPVersion string
	Headers     []Header
	Body        []byte
	Lossy       bool
}

// Timing carries the best-effort numeric fields for entry.timings.
// Unmeasured fields should be left at zero by the caller.
type Timing struct {
	SendMs    float64
	WaitMs    float64
	ReceiveMs float64
}

// HeadersFrom converts an http.Header into an ordered HAR header list.
// net/http's Header is a map, so exact wire order cannot be recovered
// once parsed; this returns headers in Go map iteration order, which is
// the best-effort order available without lower-level wire capture.
func HeadersFrom(h http.Header) []Header {
	out := make([]Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

func contentTypeOf(headers []Header) string {
	for _, h := range headers {
		if equalFold(h.Name, "Content-Type") {
			return h.Value
		}
	}
	return "application/octet-stream"
}

func equalFold(a, b string) bool {
	return len(a) == len(b) && foldEqual(a, b)
}

func foldEqual(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// bodyText decodes body bytes as UTF-8 text. Non-UTF-8 bodies are
// stored as an empty string: a known lossy contract (§9 design notes).
func bodyText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return ""
	}
	return string(body)
}

// nowFunc is overridable in tests so StartedDateTime is deterministic.
var nowFunc = time.Now

// Build assembles a one-entry HAR 1.3 log from a materialized request
// and response pair plus best-effort timings. It never errors: every
// field it cannot compute without extra instrumentation is zeroed, per
// §4.A. A side whose capture overflowed its tee ring (TransactionRequest
// or TransactionResponse with Lossy set) gets a zeroed bodySize and a
// comment marking the capture as truncated instead of a silently short
// byte count.
func Build(req TransactionRequest, resp TransactionResponse, t Timing) *HAR {
	reqHeaders := req.Headers
	if reqHeaders == nil {
		reqHeaders = []Header{}
	}
	respHeaders := resp.Headers
	if respHeaders == nil {
		respHeaders = []Header{}
	}

	var postData *Data
	reqURL := ""
	var query []Query
	if req.URL != nil {
		reqURL = req.URL.String()
		for name, values := range req.URL.Query() {
			for _, v := range values {
				query = append(query, Query{Name: name, Value: v})
			}
		}
	}
	if query == nil {
		query = []Query{}
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		postData = &Data{
			MimeType: contentTypeOf(reqHeaders),
			Text:     bodyText(req.Body),
		}
	}

	httpVersion := req.HTTPVersion
	if httpVersion == "" {
		httpVersion = "HTTP/1.1"
	}
	respVersion := resp.HTTPVersion
	if respVersion == "" {
		respVersion = httpVersion
	}

	reqBodySize := int64(len(req.Body))
	reqComment := ""
	if req.Lossy {
		reqBodySize = 0
		reqComment = lossyComment
	}
	respBodySize := int64(len(resp.Body))
	respComment := ""
	if resp.Lossy {
		respBodySize = 0
		respComment = lossyComment
	}

	entry := Entry{
		StartedDateTime: nowFunc().UTC().Format(time.RFC3339Nano),
		Time:            t.SendMs + t.WaitMs + t.ReceiveMs,
		Request: Request{
			Method:      req.Method,
			URL:         reqURL,
			HTTPVersion: httpVersion,
			Headers:     reqHeaders,
			QueryString: query,
			PostData:    postData,
			HeadersSize: 0,
			BodySize:    reqBodySize,
			Comment:     reqComment,
		},
		Response: Response{
			Status:      resp.Status,
			StatusText:  http.StatusText(resp.Status),
			HTTPVersion: respVersion,
			Headers:     respHeaders,
			Content: Content{
				Size:     0,
				MimeType: contentTypeOf(respHeaders),
				Text:     bodyText(resp.Body),
			},
			RedirectURL: "",
			HeadersSize: 0,
			BodySize:    respBodySize,
			Comment:     respComment,
		},
		Cache: Cache{},
		Timings: Timings{
			Send:    t.SendMs,
			Wait:    t.WaitMs,
			Receive: t.ReceiveMs,
		},
	}

	return &HAR{
		Log: Log{
			Version: harVersion,
			Creator: Creator{Name: creatorName, Version: creatorVersion},
			Browser: nil,
			Pages:   []Page{},
			Entries: []Entry{entry},
		},
	}
}

// lossyComment marks an entry whose request or response body overflowed
// its capture ring (§4.D: the capture side loses the oldest chunks when
// it falls behind, without slowing the live consumer).
const lossyComment = "capture truncated: body exceeded the capture buffer and was not fully recorded"

// Decode turns a one-entry HAR log back into a ready-to-submit HTTP
// request. It fails with a parkerr.MalformedCapture error if the entry
// count is not exactly one or the method/URL cannot be parsed.
func Decode(h *HAR) (*http.Request, error) {
	if h == nil || len(h.Log.Entries) != 1 {
		return nil, parkerr.New(parkerr.MalformedCapture, "har log must contain exactly one entry")
	}
	entry := h.Log.Entries[0]

	if entry.Request.Method == "" {
		return nil, parkerr.New(parkerr.MalformedCapture, "har request method is empty")
	}
	u, err := url.ParseRequestURI(entry.Request.URL)
	if err != nil {
		return nil, parkerr.Wrap(parkerr.MalformedCapture, "har request url is invalid", err)
	}

	var body io.Reader = bytes.NewReader(nil)
	if entry.Request.PostData != nil && entry.Request.PostData.Text != "" {
		body = bytes.NewReader([]byte(entry.Request.PostData.Text))
	}

	req, err := http.NewRequest(entry.Request.Method, u.String(), body)
	if err != nil {
		return nil, parkerr.Wrap(parkerr.MalformedCapture, "har request could not be constructed", err)
	}

	req.Header = http.Header{}
	for _, h := range entry.Request.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	if entry.Request.PostData != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", entry.Request.PostData.MimeType)
	}

	return req, nil
}

// String renders a one-line summary of a HAR document (its version and
// entry count) for debugging. It does not serialize the log; callers
// that need the JSON document use encoding/json directly.
func (h *HAR) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HAR log v%s, %d entr(y/ies)", h.Log.Version, len(h.Log.Entries))
	return buf.String()
}
