// Package templates registers the Handlebars helpers available in scenario
// files: user messages and variable values may generate random identifiers,
// timestamps, and fake PII at run time.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
)

var registerOnce sync.Once

// RegisterHelpers registers the helpers with raymond. Safe to call more than
// once; raymond itself rejects duplicate registrations.
func RegisterHelpers() {
	registerOnce.Do(registerAll)
}

func registerAll() {
	raymond.RegisterHelper("randomValue", randomValueHelper)
	raymond.RegisterHelper("randomInt", randomIntHelper)
	raymond.RegisterHelper("now", nowHelper)
	raymond.RegisterHelper("faker", fakerHelper)
}

// randomValueHelper implements {{randomValue type="NUMERIC" length=8}}.
// Types: ALPHANUMERIC (default), ALPHABETIC, NUMERIC, UUID.
func randomValueHelper(options *raymond.Options) string {
	randomType := strings.ToUpper(options.HashStr("type"))
	if randomType == "UUID" {
		return uuid.NewString()
	}

	length := 10
	if v := options.HashProp("length"); v != nil {
		length = toInt(v)
	}
	uppercase := raymond.IsTrue(options.HashProp("uppercase"))

	var charset string
	switch randomType {
	case "ALPHABETIC":
		charset = alphabeticChars
	case "NUMERIC":
		charset = numericChars
	default:
		charset = alphanumericChars
	}

	result := randomString(charset, length)
	if uppercase {
		result = strings.ToUpper(result)
	}
	return result
}

// randomIntHelper implements {{randomInt lower=1 upper=100}}, inclusive on
// both bounds.
func randomIntHelper(options *raymond.Options) string {
	lower, upper := 0, 100
	if v := options.HashProp("lower"); v != nil {
		lower = toInt(v)
	}
	if v := options.HashProp("upper"); v != nil {
		upper = toInt(v)
	}
	if lower > upper {
		lower, upper = upper, lower
	}
	num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
	if err != nil {
		return "0"
	}
	return strconv.Itoa(int(num.Int64()) + lower)
}

// nowHelper implements {{now format="unix" offset="3 days"}}. The default
// format is RFC3339 UTC.
func nowHelper(options *raymond.Options) string {
	now := time.Now().UTC()
	if offsetStr := options.HashStr("offset"); offsetStr != "" {
		if offset, err := parseOffset(offsetStr); err == nil {
			now = now.Add(offset)
		}
	}
	switch options.HashStr("format") {
	case "epoch":
		return strconv.FormatInt(now.UnixMilli(), 10)
	case "unix":
		return strconv.FormatInt(now.Unix(), 10)
	case "date":
		return now.Format("2006-01-02")
	default:
		return now.Format(time.RFC3339)
	}
}

// fakerHelper implements {{faker "Name.full_name"}} for generating realistic
// test identities without hardcoding PII into scenario files.
func fakerHelper(key string) string {
	f := gofakeit.New(0)
	switch key {
	case "Name.first_name":
		return f.FirstName()
	case "Name.last_name":
		return f.LastName()
	case "Name.full_name":
		return f.Name()
	case "Internet.email":
		return f.Email()
	case "Internet.username":
		return f.Username()
	case "Phone.number":
		return f.Phone()
	case "Address.street":
		return f.Street()
	case "Address.city":
		return f.City()
	case "Address.state":
		return f.State()
	case "Address.postcode":
		return f.Zip()
	case "Company.name":
		return f.Company()
	case "Misc.uuid":
		return f.UUID()
	}
	return ""
}

func randomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))
	for i := range result {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}
	return string(result)
}

func toInt(val interface{}) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// parseOffset parses offsets like "3 days" or "-45 minutes".
func parseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format: %s", offset)
	}
	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	unit := strings.TrimSuffix(strings.ToLower(parts[1]), "s")
	switch unit {
	case "second":
		return time.Duration(value) * time.Second, nil
	case "minute":
		return time.Duration(value) * time.Minute, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}
