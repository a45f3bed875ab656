package net

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

const downloadTimeout = 10 * time.Minute

// GetHTTPClient returns a client over the shared transport.
func GetHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating cookie jar: %w", err)
	}
	return &http.Client{
		Timeout:   downloadTimeout,
		Transport: reqTransport,
		Jar:       jar,
	}, nil
}
