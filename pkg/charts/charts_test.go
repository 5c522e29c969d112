package charts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestBar(t *testing.T) {
	img, err := Bar("Feature importance", "gain", []string{"age", "income"}, []float64{3, 1.5})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic))

	_, err = Bar("x", "y", []string{"a"}, nil)
	assert.Error(t, err)
}

func TestLine(t *testing.T) {
	img, err := Line("Optimization history", "trial", "value",
		Series{Name: "value", X: []float64{0, 1, 2}, Y: []float64{0.8, 0.9, 0.85}, Points: true},
		Series{Name: "best", X: []float64{0, 1, 2}, Y: []float64{0.8, 0.9, 0.9}},
	)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic))

	_, err = Line("bad", "x", "y", Series{Name: "s", X: []float64{1}, Y: nil})
	assert.Error(t, err)
}
