package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidInitData = errors.New("init data is invalid")
	ErrStaleInitData   = errors.New("init data is stale")
)

const initDataMaxAge = 24 * time.Hour

// Identity is what a verified init-data blob proves about the caller.
type Identity struct {
	BuyerID  int64
	Username string
	FullName string
}

// Validator checks the Mini App init-data signature issued by Telegram.
// Every field is trusted only after the signature check passes; any parse
// or signature failure rejects the whole blob.
type Validator struct {
	secret []byte
	now    func() time.Time
}

func NewValidator(botToken string) *Validator {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))

	return &Validator{
		secret: mac.Sum(nil),
		now:    time.Now,
	}
}

func (v *Validator) Validate(raw string) (Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("init data validator is not configured")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidInitData
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return Identity{}, ErrInvalidInitData
	}

	receivedHash := values.Get("hash")
	if receivedHash == "" {
		return Identity{}, ErrInvalidInitData
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return Identity{}, ErrInvalidInitData
	}

	if rawAuthDate := values.Get("auth_date"); rawAuthDate != "" {
		authDate, parseErr := strconv.ParseInt(rawAuthDate, 10, 64)
		if parseErr != nil {
			return Identity{}, ErrInvalidInitData
		}
		if v.now().UTC().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
			return Identity{}, ErrStaleInitData
		}
	}

	return decodeIdentity(values.Get("user"))
}

func decodeIdentity(rawUser string) (Identity, error) {
	if strings.TrimSpace(rawUser) == "" {
		return Identity{}, ErrInvalidInitData
	}

	var payload struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.Unmarshal([]byte(rawUser), &payload); err != nil {
		return Identity{}, ErrInvalidInitData
	}
	if payload.ID <= 0 {
		return Identity{}, ErrInvalidInitData
	}

	return Identity{
		BuyerID:  payload.ID,
		Username: payload.Username,
		FullName: strings.TrimSpace(strings.TrimSpace(payload.FirstName) + " " + strings.TrimSpace(payload.LastName)),
	}, nil
}
