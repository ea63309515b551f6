package wplace

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"wplacebot/internal/models"
)

func Normalize(body []byte, token string) (models.ResolvedMetrics, error) {
	if !isJSONObject(body) {
		return models.ResolvedMetrics{}, errors.New("payload is not a JSON object")
	}
	doc := gjson.ParseBytes(body)
	m := models.ResolvedMetrics{
		DisplayName:   "Unknown",
		Droplets:      doc.Get("droplets").Int(),
		Level:         int(math.Floor(doc.Get("level").Float())),
		PixelsPainted: doc.Get("pixelsPainted").Int(),
		Current:       doc.Get("charges.count").Float(),
		Max:           doc.Get("charges.max").Float(),
	}
	if name := str(doc.Get("name")); name != "" {
		m.DisplayName = name
	}
	m.Identity = str(doc.Get("userId"))
	if m.Identity == "" {
		m.Identity = str(doc.Get("id"))
	}
	if m.Identity == "" {
		m.Identity = TokenUserID(token)
	}
	return m, nil
}

func str(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

var userIDClaims = []string{"userId", "sub", "user_id"}

// TokenUserID reads a user id claim out of a JWT-shaped credential without
// verifying its signature.
func TokenUserID(token string) string {
	if strings.Count(token, ".") != 2 {
		return ""
	}
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return ""
	}
	for _, k := range userIDClaims {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
