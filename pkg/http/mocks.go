package http

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"
)

// MockHTTPClient is a mock implementation of HTTPClientInterface
type MockHTTPClient struct {
	mock.Mock
}

var _ HTTPClientInterface = (*MockHTTPClient)(nil)

// DoWithRetry mocks the DoWithRetry method
func (m *MockHTTPClient) DoWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// Get mocks the Get method
func (m *MockHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// Post mocks the Post method
func (m *MockHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	args := m.Called(ctx, url, contentType, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// PostForm mocks the PostForm method
func (m *MockHTTPClient) PostForm(ctx context.Context, u string, form url.Values) (*http.Response, error) {
	args := m.Called(ctx, u, form)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// Cookies mocks the Cookies method
func (m *MockHTTPClient) Cookies(u *url.URL) []*http.Cookie {
	args := m.Called(u)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*http.Cookie)
}

// SetCookies mocks the SetCookies method
func (m *MockHTTPClient) SetCookies(u *url.URL, cookies []*http.Cookie) {
	m.Called(u, cookies)
}

// GetClient mocks the GetClient method
func (m *MockHTTPClient) GetClient() *http.Client {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*http.Client)
}

// Close mocks the Close method
func (m *MockHTTPClient) Close() {
	m.Called()
}
