package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pingcap/errors"
)

const requestTimeout = 30 * time.Second

// Resp is the envelope every admin endpoint answers with.
type Resp struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewResp creates a Resp
func NewResp() *Resp {
	return &Resp{
		Message: "success",
	}
}

// SetData set data into Resp
func (r *Resp) SetData(data interface{}) *Resp {
	r.Data = data
	return r
}

// SetError set error into Resp
func (r *Resp) SetError(msg string) *Resp {
	r.Message = msg
	return r
}

// OK reports whether the request succeeded.
func (r *Resp) OK() bool {
	return r.Message == "success"
}

// DecodeData re-decodes Data into v.
func (r *Resp) DecodeData(v interface{}) error {
	b, err := json.Marshal(r.Data)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(json.Unmarshal(b, v))
}

// SendRequest sends a JSON request to an admin server and decodes its
// answer. Non 2xx answers carrying a Resp are returned along with an error.
func SendRequest(method string, url string, data []byte) (*Resp, error) {
	client := &http.Client{Timeout: requestTimeout}
	req, err := http.NewRequest(method, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	r := new(Resp)
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(r); err != nil {
		return nil, errors.Wrapf(err, "%s %s: status %d", method, url, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return r, errors.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, r.Message)
	}
	return r, nil
}
