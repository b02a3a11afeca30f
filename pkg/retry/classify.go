// Package retry classifies node failures and computes backoff delays between attempts.
package retry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/autoflow/pkg/protocol"
)

// Category is the retry classification of a node failure.
type Category string

const (
	CategoryTimeout         Category = "timeout"
	CategoryRateLimit       Category = "rate_limit"
	CategoryServerError     Category = "server_error"
	CategoryConnectionError Category = "connection_error"
	CategoryUnknown         Category = "unknown"
)

type keywordRule struct {
	category Category
	keywords []string
}

// Order matters: the first category with a matching keyword wins. Gateway
// timeouts are upstream failures, so they are matched before plain timeouts.
var keywordTable = []keywordRule{
	{
		category: CategoryServerError,
		keywords: []string{"504", "gateway timeout"},
	},
	{
		category: CategoryTimeout,
		keywords: []string{"timeout", "timed out", "deadline exceeded", "408"},
	},
	{
		category: CategoryRateLimit,
		keywords: []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "429", "quota exceeded", "throttl"},
	},
	{
		category: CategoryServerError,
		keywords: []string{"500", "502", "503", "internal server error", "bad gateway", "service unavailable"},
	},
	{
		category: CategoryConnectionError,
		keywords: []string{"connection refused", "connection reset", "connection error", "no such host", "network is unreachable", "broken pipe", "eof", "dial tcp"},
	},
}

// Classify maps err to a retry category. An explicit hint carried by the error
// takes precedence over the keyword table, which is matched against the
// lower-cased failure message and type name. The node ID and error kind of a
// *protocol.Error never take part in the match.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if hint := protocol.CategoryOf(err); hint != "" {
		return Category(hint)
	}

	return ClassifyMessage(messageOf(err) + " " + typeName(err))
}

// ClassifyMessage applies the keyword table to a failure message.
func ClassifyMessage(message string) Category {
	haystack := strings.ToLower(message)

	for _, rule := range keywordTable {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.category
			}
		}
	}

	return CategoryUnknown
}

// messageOf returns the text of err without the kind and node prefix that
// *protocol.Error adds.
func messageOf(err error) string {
	var parts []string

	for err != nil {
		classified, ok := err.(*protocol.Error)
		if !ok {
			parts = append(parts, err.Error())

			break
		}

		if classified.Message != "" {
			parts = append(parts, classified.Message)
		}

		err = classified.Err
	}

	return strings.Join(parts, ": ")
}

func typeName(err error) string {
	for err != nil {
		if _, ok := err.(*protocol.Error); !ok {
			return fmt.Sprintf("%T", err)
		}

		err = errors.Unwrap(err)
	}

	return ""
}
