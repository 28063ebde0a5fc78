package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/mocks"
)

func TestMockDriver_NilSliceIsEmpty(t *testing.T) {
	m := new(mocks.MockDriver)
	m.On("FindElements", mock.Anything, "#missing").Return(nil, nil)

	els, err := m.FindElements(context.Background(), "#missing")
	require.NoError(t, err)
	assert.Empty(t, els)
	m.AssertExpectations(t)
}

func TestMockSession_SharesRecorder(t *testing.T) {
	s := new(mocks.MockSession)
	el := &mocks.MockElement{Sel: "textarea"}
	s.On("FindElements", mock.Anything, "textarea").Return([]driver.Element{el}, nil)
	s.On("Navigate", mock.Anything, "https://example.test/").Return(nil)
	s.On("Close", mock.Anything).Return(errors.New("already gone"))

	ctx := context.Background()
	els, err := s.FindElements(ctx, "textarea")
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "textarea", els[0].Selector())
	assert.NoError(t, s.Navigate(ctx, "https://example.test/"))
	assert.EqualError(t, s.Close(ctx), "already gone")
	s.AssertExpectations(t)
}

func TestMockSessionFactory(t *testing.T) {
	f := new(mocks.MockSessionFactory)
	f.On("NewSession", mock.Anything).Return(nil, errors.New("no browser")).Once()

	s, err := f.NewSession(context.Background())
	assert.Nil(t, s)
	assert.EqualError(t, err, "no browser")
	f.AssertExpectations(t)
}

func TestMockConfig(t *testing.T) {
	m := new(mocks.MockConfig)
	m.On("Batch").Return(config.BatchConfig{MaxAttempts: 2})
	m.On("Providers").Return(nil)
	m.On("SetResultsDir", "/tmp/x").Return()

	assert.Equal(t, 2, m.Batch().MaxAttempts)
	assert.Nil(t, m.Providers())
	m.SetResultsDir("/tmp/x")
	m.AssertExpectations(t)
}
