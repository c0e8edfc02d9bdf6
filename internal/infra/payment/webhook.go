package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"subscription-fulfillment/internal/usecase"
)

var ErrBadSignature = errors.New("webhook signature mismatch")

type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseWebhook reads a notification from its JSON body, falling back to the
// type/data.id query parameters the provider also sends. Only the type and
// resource id are returned; any embedded status is ignored.
func ParseWebhook(body []byte, query url.Values) (usecase.WebhookEvent, error) {
	var ev usecase.WebhookEvent
	if len(strings.TrimSpace(string(body))) > 0 {
		var b webhookBody
		if err := json.Unmarshal(body, &b); err != nil {
			return ev, err
		}
		ev.Type = b.Type
		ev.ResourceID = rawID(b.Data.ID)
	}
	if ev.Type == "" {
		ev.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if ev.ResourceID == "" {
		ev.ResourceID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}
	return ev, nil
}

// rawID accepts both numeric and string ids.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// VerifySignature checks an x-signature header of the form "ts=…,v1=…"
// against HMAC-SHA256 of "id:<data id>;request-id:<x-request-id>;ts:<ts>;".
func VerifySignature(secret, header, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return ErrBadSignature
	}
	expected := signManifest(secret, requestID, dataID, ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrBadSignature
	}
	return nil
}

// Sign builds a header VerifySignature accepts; used by tests and the sandbox tooling.
func Sign(secret, requestID, dataID, ts string) string {
	return "ts=" + ts + ",v1=" + signManifest(secret, requestID, dataID, ts)
}

func signManifest(secret, requestID, dataID, ts string) string {
	manifest := "id:" + strings.ToLower(dataID) + ";"
	if requestID != "" {
		manifest += "request-id:" + requestID + ";"
	}
	manifest += "ts:" + ts + ";"
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(manifest))
	return hex.EncodeToString(h.Sum(nil))
}
