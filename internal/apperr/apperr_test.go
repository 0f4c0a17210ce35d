package apperr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{InvalidMasterToken, http.StatusUnauthorized},
		{AccessTokenExpired, http.StatusUnauthorized},
		{EmptyOrder, http.StatusBadRequest},
		{InvalidOrderFormat, http.StatusBadRequest},
		{DuplicateTask, http.StatusConflict},
		{QueueOverflow, http.StatusConflict},
		{TaskNotFound, http.StatusNotFound},
		{PathNotFound, http.StatusNotFound},
		{DatabaseError, http.StatusInternalServerError},
		{UnknownError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus(), tc.err.Name)
	}
}

func TestWithDetailReturnsNewCopyLeavingOriginalIntact(t *testing.T) {
	detailed := DuplicateTask.WithDetail("hash=%s", "abc123")

	assert.NotSame(t, DuplicateTask, detailed)
	assert.Equal(t, "an identical task is already registered", DuplicateTask.Message)
	assert.Equal(t, "hash=abc123", detailed.Message)
	assert.Equal(t, DuplicateTask.Name, detailed.Name)
	assert.Equal(t, DuplicateTask.Code, detailed.Code)
	assert.Equal(t, DuplicateTask.HTTPStatus(), detailed.HTTPStatus())
}

func TestWithDetailChainingProducesDistinctPointers(t *testing.T) {
	first := ProductLimitExceeded.WithDetail("limit=%d", 10)
	second := ProductLimitExceeded.WithDetail("limit=%d", 20)

	assert.NotSame(t, first, second)
	assert.Equal(t, "limit=10", first.Message)
	assert.Equal(t, "limit=20", second.Message)
}

func TestErrorStringIncludesNameCodeMessage(t *testing.T) {
	s := TaskNotFound.Error()
	assert.Contains(t, s, "TaskNotFound")
	assert.Contains(t, s, "401")
}
