package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Calculating")

	p.Update(0, 0)
	p.Finish()
	assert.Nil(t, p.bar, "no bar until a total is known")
	assert.Empty(t, buf.String())

	for i := 1; i <= 3; i++ {
		p.Update(i, 3)
	}
	p.Finish()
	assert.NotNil(t, p.bar)
	assert.Contains(t, buf.String(), "Calculating")
}
