package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Google API host.
const DefaultBaseURL = "https://www.googleapis.com"

// maxIDsPerRequest is the largest count files.generateIds accepts.
const maxIDsPerRequest = 1000

// Client talks to a Drive v3 style REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates an API client with the given http.Client.
// If httpClient is nil, http.DefaultClient is used.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type fileMetadata struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

// do sends a request and returns the response body. Any transport error
// or non-2xx status is returned as *Error.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, &Error{Op: op, Reason: "creating request", Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Status: resp.StatusCode, Reason: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, Status: resp.StatusCode, Reason: errorReason(respBody)}
	}

	return respBody, nil
}

// errorReason extracts the message from a {"error":{"message":...}}
// body, falling back to the raw body.
func errorReason(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}

	// Some endpoints return {"error":"..."} instead.
	if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
		return msg.String()
	}

	reason := strings.TrimSpace(string(body))
	if reason == "" {
		return "empty response"
	}

	return reason
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: op, Reason: "marshalling request body", Err: err}
	}

	return c.do(ctx, op, method, endpoint, bytes.NewReader(data), "application/json; charset=UTF-8")
}

// GenerateIDs allocates count identifiers that Create will accept.
func (c *Client) GenerateIDs(ctx context.Context, count int) ([]string, error) {
	ids := make([]string, 0, count)

	for remaining := count; remaining > 0; {
		n := min(remaining, maxIDsPerRequest)

		body, err := c.do(ctx, "generate ids", http.MethodGet,
			"/drive/v3/files/generateIds?space=drive&count="+strconv.Itoa(n), nil, "")
		if err != nil {
			return nil, err
		}

		got := gjson.GetBytes(body, "ids").Array()
		if len(got) != n {
			return nil, &Error{Op: "generate ids", Status: http.StatusOK,
				Reason: fmt.Sprintf("requested %d ids, received %d", n, len(got))}
		}

		for _, id := range got {
			ids = append(ids, id.String())
		}

		remaining -= n
	}

	return ids, nil
}

// Create creates a folder, or a file with its content, and returns the
// object's identifier.
func (c *Client) Create(ctx context.Context, obj Object) (string, error) {
	meta := fileMetadata{
		ID:       obj.ID,
		Name:     objectName(obj.Name),
		MimeType: mimeType(obj.Name, obj.Kind),
	}

	if obj.ParentID != "" {
		meta.Parents = []string{obj.ParentID}
	}

	var (
		body []byte
		err  error
	)

	if obj.Kind == models.KindFolder || obj.Content == nil {
		body, err = c.doJSON(ctx, "create", http.MethodPost, "/drive/v3/files?fields=id", meta)
	} else {
		body, err = c.upload(ctx, meta, obj.Content)
	}

	if err != nil {
		return "", err
	}

	if id := gjson.GetBytes(body, "id").String(); id != "" {
		return id, nil
	}

	if obj.ID == "" {
		return "", &Error{Op: "create", Status: http.StatusOK, Reason: "response carries no id"}
	}

	return obj.ID, nil
}

// upload sends metadata and content as one multipart/related request.
// The body is streamed through a pipe so large files are not buffered.
func (c *Client) upload(ctx context.Context, meta fileMetadata, content io.Reader) ([]byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, meta, content))
	}()

	body, err := c.do(ctx, "create", http.MethodPost,
		"/upload/drive/v3/files?uploadType=multipart&fields=id", pr,
		"multipart/related; boundary="+mw.Boundary())

	// Unblock the writer goroutine if the request ended early.
	pr.Close()

	return body, err
}

func writeMultipart(mw *multipart.Writer, meta fileMetadata, content io.Reader) error {
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return err
	}

	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return err
	}

	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {meta.MimeType},
	})
	if err != nil {
		return err
	}

	if _, err := io.Copy(mediaPart, content); err != nil {
		return fmt.Errorf("reading content: %w", err)
	}

	return mw.Close()
}

// UpdateContent replaces a file's content.
func (c *Client) UpdateContent(ctx context.Context, id string, content io.Reader) error {
	_, err := c.do(ctx, "update", http.MethodPatch,
		"/upload/drive/v3/files/"+url.PathEscape(id)+"?uploadType=media&fields=id", content, defaultMIMEType)

	return err
}

// Rename changes an object's name. Parent and content are untouched.
func (c *Client) Rename(ctx context.Context, id, newName string) error {
	_, err := c.doJSON(ctx, "rename", http.MethodPatch,
		"/drive/v3/files/"+url.PathEscape(id)+"?fields=id", map[string]string{"name": objectName(newName)})

	return err
}

// Delete permanently removes an object. Folders take their descendants
// with them.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, "/drive/v3/files/"+url.PathEscape(id), nil, "")

	return err
}
