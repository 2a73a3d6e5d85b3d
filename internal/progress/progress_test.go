package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilBarIsNoop(t *testing.T) {
	var b *Bar
	assert.NotPanics(t, func() {
		b.Update(1, 2)
		b.Finish()
	})
	assert.Nil(t, New(false, "x"))
}

func TestBar_Update(t *testing.T) {
	var buf bytes.Buffer
	b := NewWithWriter(&buf, "embedding")
	b.Update(0, 0)
	assert.Nil(t, b.bar)

	b.Update(3, 10)
	b.Update(10, 10)
	b.Finish()
	assert.NotNil(t, b.bar)
	assert.Contains(t, buf.String(), "embedding")
}

func TestSpinnerDisabled(t *testing.T) {
	stop := Spinner(false, "x")
	assert.NotPanics(t, stop)
}
