package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatEvent(t *testing.T) {
	trace := retryTrace()

	assert.Equal(t, `#0 initial state=idle{}`, FormatEvent(trace[0]))
	assert.Equal(t,
		`#3 trigger change=retry{} state=loading{"url":"flaky:1:x","attempt":2} action=fetch{"url":"flaky:1:x","attempt":2}`,
		FormatEvent(trace[3]))
}

func TestFormatTrace(t *testing.T) {
	out := FormatTrace("demo", retryTrace()[:2])

	assert.Equal(t, "scenario: demo\n"+
		"#0 initial state=idle{}\n"+
		`#1 external change=load{"url":"flaky:1:x"} state=loading{"url":"flaky:1:x","attempt":1} action=fetch{"url":"flaky:1:x","attempt":1}`+"\n",
		string(out))
}
