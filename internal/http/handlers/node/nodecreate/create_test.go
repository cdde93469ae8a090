package nodecreate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, req models.DummyNode) (models.Node, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Node), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const validBody = `{"name":"de-1","api_url":"https://de.example.com:2053/panel","username":"admin",` +
	`"password":"s3cret","inbound_id":1,"host":"de.example.com","port":443,"security":"reality"}`

func TestCreateHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "success hides password",
			body: validBody,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, mock.MatchedBy(func(req models.DummyNode) bool {
					return req.Name == "de-1" && req.Password == "s3cret" && req.Port == 443
				})).Return(models.Node{ID: 4, Name: "de-1", Password: "s3cret", Active: true}, nil).Once()
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"name":"de-1"`,
		},
		{
			name:           "bad port",
			body:           strings.Replace(validBody, `"port":443`, `"port":70000`, 1),
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field Port is out of range`,
		},
		{
			name:           "bad api url",
			body:           strings.Replace(validBody, `"https://de.example.com:2053/panel"`, `"panel"`, 1),
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field APIURL must be a valid url`,
		},
		{
			name:           "invalid json",
			body:           `[]`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `invalid request body`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			w := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/nodes", strings.NewReader(tt.body)))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			assert.NotContains(t, w.Body.String(), "s3cret")
			svc.AssertExpectations(t)
		})
	}
}
