// Package client talks to a running prediction server.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

// RemoteError is an error payload returned by the server.
type RemoteError struct {
	StatusCode int
	Message    string
	Traceback  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type response struct {
	model.Prediction
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

// PredictFile uploads the image at path to POST /predict.
func (c *Client) PredictFile(ctx context.Context, path string, probabilities bool) (model.Prediction, error) {
	var res response
	req := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&res).
		SetError(&res)
	if probabilities {
		req.SetQueryParam("probabilities", "true")
	}

	resp, err := req.Post("/predict")
	if err != nil {
		return model.Prediction{}, errors.Wrap(err, "prediction request failed")
	}
	// Legacy servers report handled errors with 200, so look at the body too.
	if resp.IsError() || res.Error != "" {
		msg := res.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return model.Prediction{}, &RemoteError{
			StatusCode: resp.StatusCode(),
			Message:    msg,
			Traceback:  res.Traceback,
		}
	}
	if res.PredictedClass == "" {
		return model.Prediction{}, errors.Errorf("server returned no prediction (status %d)", resp.StatusCode())
	}
	return res.Prediction, nil
}
