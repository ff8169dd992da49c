package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const correlationHeader = "X-Correlation-Id"

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Methods":     "GET,POST,OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type, Authorization, X-Correlation-Id",
	"Access-Control-Allow-Credentials": "true",
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func responseHeaders(correlationID string) map[string]string {
	h := make(map[string]string, len(corsHeaders)+2)
	for k, v := range corsHeaders {
		h[k] = v
	}
	h["Content-Type"] = "application/json"
	if correlationID != "" {
		h[correlationHeader] = correlationID
	}
	return h
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", slog.Any("error", err))
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal server error"}`)
	}
	return rawResponse(status, body, correlationID)
}

func rawResponse(status int, body []byte, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(correlationID),
		Body:       string(body),
	}
}

func preflight(correlationID string) events.APIGatewayProxyResponse {
	resp := rawResponse(http.StatusOK, nil, correlationID)
	delete(resp.Headers, "Content-Type")
	return resp
}

func methodNotAllowed(correlationID string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"}, correlationID)
}

// header looks a request header up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return b, nil
}
