package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Conflict("queue %s is not empty", "q1")
	if KindOf(err) != KindConflict {
		t.Errorf("expected KindConflict, got %v", KindOf(err))
	}

	wrapped := fmt.Errorf("delete queue: %w", err)
	if KindOf(wrapped) != KindConflict {
		t.Errorf("kind lost through wrapping, got %v", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain error should have KindUnknown")
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(Transport(nil, "connection lost")) {
		t.Error("transport errors should be retryable")
	}
	if IsRetryable(Cancelled("client closed")) {
		t.Error("cancelled requests should not be retryable")
	}
	if !IsRetryable(Remote("RATE_LIMIT", "slow down", true)) {
		t.Error("remote retryable flag not carried")
	}
	if IsRetryable(Remote("BAD_SESSION", "unknown session", false)) {
		t.Error("remote terminal error marked retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("missing title"), http.StatusBadRequest},
		{NotFound("task %s", "t1"), http.StatusNotFound},
		{Conflict("executor already running"), http.StatusConflict},
		{Transport(nil, "gateway unreachable"), http.StatusBadGateway},
		{Protocol("unknown frame type"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("apply transition: %w", Conflict("wrong queue"))
	if !errors.Is(err, &Error{Kind: KindConflict}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Error("errors.Is matched the wrong kind")
	}
}
