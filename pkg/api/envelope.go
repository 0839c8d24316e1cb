// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luxfi/attribution/pkg/log"
)

const ctxRequestID = "request_id"

// Response statuses. Consumers must be able to tell "no data" from
// "computation failed" from "data below confidence threshold"; these
// are never collapsed into one generic error.
const (
	StatusOK            = "ok"
	StatusNoData        = "no_data"
	StatusLowConfidence = "low_confidence"
	StatusFailed        = "failed"
)

// Envelope is the uniform response body.
type Envelope struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func (s *Server) reply(c *gin.Context, endpoint, status string, reason string, data any) {
	s.metrics.Requests.WithLabelValues(endpoint, status).Inc()
	c.JSON(http.StatusOK, Envelope{
		Status:    status,
		RequestID: c.GetString(ctxRequestID),
		Reason:    reason,
		Data:      data,
	})
}

func (s *Server) fail(c *gin.Context, endpoint string, code int, err error) {
	s.metrics.Requests.WithLabelValues(endpoint, StatusFailed).Inc()
	s.log.Error("request failed",
		log.String("endpoint", endpoint),
		log.String("request_id", c.GetString(ctxRequestID)),
		log.Error(err))
	c.JSON(code, Envelope{
		Status:    StatusFailed,
		RequestID: c.GetString(ctxRequestID),
		Reason:    err.Error(),
	})
}
