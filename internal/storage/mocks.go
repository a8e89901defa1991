package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockUploader is a mock implementation of Uploader for testing. The body
// is drained before recording the call so tests can assert on the bytes.
type MockUploader struct {
	mock.Mock

	// Uploaded holds the body bytes of each successful call, keyed by key.
	Uploaded map[string][]byte
}

func (m *MockUploader) Upload(ctx context.Context, key string, body io.Reader, size int64, md5Hex string) (string, error) {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, key, size, md5Hex)
	if args.Error(1) == nil {
		if m.Uploaded == nil {
			m.Uploaded = make(map[string][]byte)
		}
		m.Uploaded[key] = data
	}
	return args.String(0), args.Error(1)
}

// Compile-time check.
var _ Uploader = (*MockUploader)(nil)
