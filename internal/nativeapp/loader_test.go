package nativeapp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heliograph/dfms/pkg/errkind"
)

func TestLoadLibraryMissingFile(t *testing.T) {
	_, err := loadLibrary("/nonexistent/libdfmsapp.so")
	assert.True(t, errkind.Is(err, errkind.KindInvalidLibrary))
}

func TestErrSymbolMissingMessage(t *testing.T) {
	err := errSymbolMissing("run")
	assert.Contains(t, err.Error(), "run")
}
