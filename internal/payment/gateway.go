package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orders-be/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

type httpGateway struct {
	baseURL        string
	callbackSecret string
	httpClient     *http.Client
}

// NewHTTPGateway returns a Gateway that talks to the payment service over
// HTTP. callbackSecret is the HMAC key the payment service signs its
// callback tokens with; empty skips verification (dev only).
func NewHTTPGateway(baseURL, callbackSecret string) Gateway {
	if callbackSecret == "" {
		logger.L().Warn("payment callback secret is empty, callback verification disabled")
	}

	return &httpGateway{
		baseURL:        baseURL,
		callbackSecret: callbackSecret,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (g *httpGateway) CreateSession(ctx context.Context, orderID, currency string, items []SessionItem) (*Session, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "payment"),
		zap.String("order_id", orderID),
		zap.String("currency", currency),
		zap.Int("item_count", len(items)),
	)

	body := map[string]any{
		"orderId":  orderID,
		"currency": currency,
		"items":    items,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/payments/sessions", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("failed building payment request", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}
	req.Header.Add("Content-Type", "application/json")

	log.Info("requesting payment session")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error("payment request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read payment response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Error("payment service returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBytes),
		)
		return nil, fmt.Errorf("%w: status %d", ErrSessionFailed, resp.StatusCode)
	}

	var session Session
	if err := json.Unmarshal(respBytes, &session); err != nil {
		log.Error("failed decoding payment response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	log.Info("payment session created", zap.String("session_id", session.SessionID))

	return &session, nil
}

// VerifyCallback checks the HS256 bearer token the payment service attaches
// to its callbacks.
func (g *httpGateway) VerifyCallback(r *http.Request) error {
	if g.callbackSecret == "" {
		return nil // skip in dev
	}

	tokenStr := extractBearerToken(r)
	if tokenStr == "" {
		return ErrInvalidCallback
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(g.callbackSecret), nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidCallback
	}

	return nil
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
