package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindGone, http.StatusGone},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.kind, "x").HTTPStatus(); got != tc.want {
			t.Errorf("kind %d: status = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestGetKindFindsWrappedError(t *testing.T) {
	sentinel := errors.New("boom")
	err := fmt.Errorf("load case: %w", Wrap(KindGone, "link expired", sentinel).WithCode("link_expired"))

	if GetKind(err) != KindGone {
		t.Fatalf("GetKind = %d, want KindGone", GetKind(err))
	}
	e, ok := As(err)
	if !ok || e.Code != "link_expired" {
		t.Fatalf("As = %+v, %v", e, ok)
	}
	if !errors.Is(err, sentinel) {
		t.Fatal("underlying error lost")
	}
	if GetKind(sentinel) != KindUnknown {
		t.Fatal("plain error should be KindUnknown")
	}
}
