// Package claimsapi is the HTTP client of the external claims REST API.
package claimsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const (
	statusPath = "/api/claim/claim-status"
	createPath = "/api/claim/create-claim"

	maxBodyBytes = 1 << 20
)

type Client struct {
	baseURL string
	base    http.RoundTripper
}

// NewClient returns a client for the API at baseURL. A nil transport uses
// http.DefaultTransport. Deadlines come from the caller's context.
func NewClient(baseURL string, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    transport,
	}
}

type statusRequest struct {
	ClaimID string `json:"claim_id"`
}

type createRequest struct {
	PolicyID string `json:"policy_id"`
	Damage   string `json:"damage"`
	Vehicle  string `json:"vehicle"`
}

// GetClaimStatus implements domain.ClaimsAPI.
func (c *Client) GetClaimStatus(ctx context.Context, claimID, authToken string) (domain.ClaimRecord, error) {
	return c.post(ctx, "claimsapi.GetClaimStatus", statusPath, statusRequest{ClaimID: claimID}, authToken)
}

// SubmitClaim implements domain.ClaimsAPI.
func (c *Client) SubmitClaim(ctx context.Context, sub domain.ClaimSubmission, authToken string) (domain.ClaimRecord, error) {
	return c.post(ctx, "claimsapi.SubmitClaim", createPath, createRequest{
		PolicyID: sub.PolicyID,
		Damage:   sub.DamageDescription,
		Vehicle:  sub.Vehicle,
	}, authToken)
}

// httpClient attaches the caller's bearer token; an empty token sends none.
func (c *Client) httpClient(authToken string) *http.Client {
	if authToken == "" {
		return &http.Client{Transport: c.base}
	}
	return &http.Client{Transport: &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: authToken, TokenType: "Bearer"}),
		Base:   c.base,
	}}
}

func (c *Client) post(ctx context.Context, spanName, path string, payload any, authToken string) (rec domain.ClaimRecord, err error) {
	ctx, span := observability.StartSpan(ctx, spanName, attribute.String("http.path", path))
	defer func() { observability.EndSpan(span, err) }()

	log := observability.LoggerFromContext(ctx).With("path", path)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding claims request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building claims request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := observability.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient(authToken).Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling claims api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading claims response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Info("claim not found")
		return nil, domain.ErrClaimNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		log.Warn("claims api returned error status", "status", resp.StatusCode)
		return nil, &domain.APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return asRecord(raw), nil
}

// asRecord passes JSON bodies through untouched and wraps anything else as a
// JSON string.
func asRecord(raw []byte) domain.ClaimRecord {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return domain.ClaimRecord(trimmed)
	}
	wrapped, _ := json.Marshal(string(trimmed))
	return domain.ClaimRecord(wrapped)
}
