package transport

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"toolstream/internal/toolerr"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{toolerr.New(toolerr.KindProtocolError, "bad body"), http.StatusBadRequest},
		{toolerr.New(toolerr.KindSessionNotFound, "gone"), http.StatusNotFound},
		{toolerr.New(toolerr.KindSessionClosed, "closed"), http.StatusGone},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
