package stream

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEEmitterWritesHeadersLazily(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	emitter := NewSSEEmitter(c)
	assert.False(t, emitter.Started())
	assert.Empty(t, w.Header().Get("Content-Type"))

	require.NoError(t, emitter.Emit(Token("Hel")))
	require.NoError(t, emitter.Emit(Token("lo")))

	assert.True(t, emitter.Started())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t,
		"data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n"+
			"data: {\"type\":\"token\",\"content\":\"lo\"}\n\n",
		w.Body.String())
}

func TestSSEEmitterEventsAreOneLineEach(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	emitter := NewSSEEmitter(c)
	require.NoError(t, emitter.Emit(Done("c-1")))

	assert.Equal(t, "data: {\"type\":\"done\",\"conversation_id\":\"c-1\"}\n\n", w.Body.String())
	assert.False(t, emitter.Closed())
}
