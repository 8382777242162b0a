package streamformat

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/s3conduit/pkg/discovery"
)

func nopCloser(r io.Reader) io.ReadCloser {
	return io.NopCloser(r)
}

func TestBytesReader_SingleRecord(t *testing.T) {
	loc := discovery.PathLocation{Bucket: "b", Key: "obj"}
	r, err := Open(FormatBytes, loc, nopCloser(strings.NewReader("hello world")), 0)
	require.NoError(t, err)

	require.True(t, r.HasNext())
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(rec.Value))
	assert.False(t, r.HasNext())
}

func TestBytesReader_AlreadyDeliveredIsExhausted(t *testing.T) {
	loc := discovery.PathLocation{Bucket: "b", Key: "obj"}
	r, err := Open(FormatBytes, loc, nopCloser(strings.NewReader("hello")), 1)
	require.NoError(t, err)
	assert.False(t, r.HasNext())
}

func TestTextReader_LinesInOrder(t *testing.T) {
	loc := discovery.PathLocation{Bucket: "b", Key: "obj"}
	body := "line0\nline1\nline2\n"
	r, err := Open(FormatText, loc, nopCloser(strings.NewReader(body)), 0)
	require.NoError(t, err)

	var got []string
	for r.HasNext() {
		rec, err := r.Next()
		require.NoError(t, err)
		got = append(got, string(rec.Value))
	}
	assert.Equal(t, []string{"line0", "line1", "line2"}, got)
	assert.Equal(t, 2, r.CurrentLine())
}

// S6: resumption from a saved line offset.
func TestTextReader_ResumesFromLineOffset(t *testing.T) {
	loc := discovery.PathLocation{Bucket: "b", Key: "A"}
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "line" + string(rune('0'+i))
	}
	body := strings.Join(lines, "\n") + "\n"

	r, err := Open(FormatText, loc, nopCloser(strings.NewReader(body)), 3)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 5 && r.HasNext(); i++ {
		rec, err := r.Next()
		require.NoError(t, err)
		got = append(got, string(rec.Value))
	}
	assert.Equal(t, []string{"line3", "line4", "line5", "line6", "line7"}, got)
	assert.Equal(t, 7, r.CurrentLine())
}

func TestJSONLReader_ValidatesEachLine(t *testing.T) {
	loc := discovery.PathLocation{Bucket: "b", Key: "obj"}
	body := `{"a":1}` + "\n" + `not-json` + "\n"
	r, err := Open(FormatJSONL, loc, nopCloser(strings.NewReader(body)), 0)
	require.NoError(t, err)

	require.True(t, r.HasNext())
	rec, err := r.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(rec.Value))

	require.True(t, r.HasNext())
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
