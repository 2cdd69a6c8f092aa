package errmap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/idmcalculus/kytepdf/parser"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"encrypted sentinel", fmt.Errorf("open pdf: %w", parser.ErrEncrypted), rules[0].message},
		{"password", errors.New("Password required"), rules[0].message},
		{"not pdf sentinel", parser.ErrNotPDF, rules[1].message},
		{"corrupt", errors.New("xref table CORRUPT"), rules[1].message},
		{"oom", errors.New("runtime: out of memory"), rules[2].message},
		{"save picker", errors.New("showSaveFilePicker is not defined"), rules[3].message},
		{"network", errors.New("Failed to fetch"), rules[4].message},
		{"abort", errors.New("AbortError: the user aborted a request"), cancelled},
		{"context canceled", fmt.Errorf("compress: %w", context.Canceled), cancelled},
		{"quota", errors.New("QuotaExceededError"), rules[6].message},
		{"first rule wins", errors.New("encrypted buffer"), rules[0].message},
		{"no match", errors.New("something odd"), "fallback text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Map(tt.err, "fallback text"))
		})
	}
}

func TestMapFallbacks(t *testing.T) {
	assert.Equal(t, "something odd", Map(errors.New("something odd"), ""))
	assert.Equal(t, DefaultFallback, Message(errors.New("something odd")))
	assert.Equal(t, "fb", Map(nil, "fb"))
	assert.Equal(t, cancelled, MapText("stopped", "", true))
}
