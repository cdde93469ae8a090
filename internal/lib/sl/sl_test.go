package sl_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	attr := sl.Err(errors.New("something went wrong"))

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.NotPanics(t, func() {
		attr := sl.Err(nil)
		assert.Equal(t, "", attr.Value.String())
	})
}

func TestNewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		env       string
		wantDebug bool
	}{
		{env: "local", wantDebug: true},
		{env: "dev", wantDebug: true},
		{env: "prod", wantDebug: false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			log := sl.NewWithWriter(tt.env, &buf)
			log.Debug("debug line", sl.Node("nl-1"))
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("node=nl-1")))
		})
	}
}
