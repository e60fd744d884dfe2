package color

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprintfWrapsWithEscapeCodes(t *testing.T) {
	var buf bytes.Buffer
	New(FgGreen, Bold).Fprintf(&buf, "ok %d", 7)
	assert.Equal(t, "\033[32;1mok 7\033[0m", buf.String())
}

func TestNoAttributesMeansNoEscape(t *testing.T) {
	var buf bytes.Buffer
	New().Fprintf(&buf, "plain")
	assert.Equal(t, "plain\033[0m", buf.String())
}
