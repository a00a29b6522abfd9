package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"protoqa/internal/settings"
)

// MockRepository is a mock implementation of settings.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func defaults() settings.Settings {
	return settings.Settings{RelevanceFloorSearch: 0.1, RelevanceFloorAnswer: 0.2, TopK: 6}
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		svc := settings.NewService(mockRepo, defaults())
		handler := settings.NewHandler(svc)

		expectedSettings := &settings.Settings{
			RelevanceMaxDistance: 500,
			RelevanceFloorAnswer: 0.25,
			TopK:                 8,
		}

		mockRepo.On("Get", mock.Anything).Return(expectedSettings, nil)

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		resp := w.Result()
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&body)

		data := body["data"].(map[string]interface{})
		assert.Equal(t, 500.0, data["relevance_max_distance"])
		assert.Equal(t, 0.25, data["relevance_floor_answer"])
		assert.Equal(t, 8.0, data["top_k"])
		meta := body["meta"].(map[string]interface{})
		assert.Equal(t, 6.0, meta["defaults"].(map[string]interface{})["top_k"])

		mockRepo.AssertExpectations(t)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		svc := settings.NewService(mockRepo, defaults())
		handler := settings.NewHandler(svc)

		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		resp := w.Result()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	current := func() *settings.Settings {
		return &settings.Settings{RelevanceMaxDistance: 500, RelevanceFloorSearch: 0.1, RelevanceFloorAnswer: 0.2, TopK: 6}
	}

	t.Run("MergesPartialBody", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		mockRepo.On("Get", mock.Anything).Return(current(), nil)
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.TopK == 4 && s.RelevanceFloorAnswer == 0.3 &&
				s.RelevanceFloorSearch == 0.1 && s.RelevanceMaxDistance == 500
		})).Return(nil)

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"top_k":4,"relevance_floor_answer":0.3}`))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"relevance_max_distance":500,"relevance_floor_search":0.1,"relevance_floor_answer":0.3,"top_k":4}}`, w.Body.String())
		mockRepo.AssertExpectations(t)
	})

	t.Run("ZeroMaxDistanceRestoresCalibration", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		mockRepo.On("Get", mock.Anything).Return(current(), nil)
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.RelevanceMaxDistance == 0 && s.TopK == 6
		})).Return(nil)

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"relevance_max_distance":0}`))
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString("invalid json"))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockRepo.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("UnknownField", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"rerank_provider":"cohere"}`))
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("OutOfRange", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		mockRepo.On("Get", mock.Anything).Return(current(), nil)

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"relevance_floor_answer":1.5}`))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp map[string]interface{}
		json.NewDecoder(w.Body).Decode(&resp)
		assert.Equal(t, "VALIDATION_ERROR", resp["error"].(map[string]interface{})["code"])
		mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("RepositoryDown", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults()))

		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("connection refused"))

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"top_k":3}`))
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestService_WithoutRepository(t *testing.T) {
	svc := settings.NewService(nil, defaults())

	s, err := svc.Get(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 6, s.TopK)

	s.TopK = 99
	again, _ := svc.Get(context.Background())
	assert.Equal(t, 6, again.TopK, "Get must hand out copies")

	assert.NoError(t, svc.Update(context.Background(), &settings.Settings{TopK: 3}))
	updated, _ := svc.Get(context.Background())
	assert.Equal(t, 3, updated.TopK)
}
