package sourcemap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/results"
)

func TestPassThrough_CarriesCoordinatesVerbatim(t *testing.T) {
	got, err := PassThrough{}.Resolve(context.Background(), results.RawStackFrame{File: "bundle.js", Line: 10, Column: 3})
	require.NoError(t, err)
	assert.Equal(t, results.ResolvedFrame{File: "bundle.js", Line: 10, Column: 3}, got)
}

type fixedResolver struct{ file string }

func (f fixedResolver) Resolve(ctx context.Context, frame results.RawStackFrame) (results.ResolvedFrame, error) {
	return results.ResolvedFrame{File: f.file, Line: frame.Line, Column: frame.Column}, nil
}

func TestCache_DispatchesByRegisteredURL(t *testing.T) {
	c := NewCache()
	c.Register("bundle.js", fixedResolver{file: "src/app.ts"})

	got, err := c.Resolve(context.Background(), results.RawStackFrame{File: "bundle.js", Line: 5, Column: 1})
	require.NoError(t, err)
	assert.Equal(t, "src/app.ts", got.File)
}

func TestCache_FallsBackToPassThroughForUnregisteredURL(t *testing.T) {
	c := NewCache()
	got, err := c.Resolve(context.Background(), results.RawStackFrame{File: "unknown.js", Line: 1, Column: 1})
	require.NoError(t, err)
	assert.Equal(t, "unknown.js", got.File)
}
