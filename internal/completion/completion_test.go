package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/chatrelay/pkg/httpclient"
)

// fakeUpstream は補完APIの代わりに応答するテストサーバーを起動する。
// 受け取ったリクエストボディとAuthorizationヘッダーをreceivedに記録する。
func fakeUpstream(t *testing.T, status int, body string, received *chatRequest, authHeader *string) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatCompletionsPath {
			t.Errorf("Path = %q, want %q", r.URL.Path, chatCompletionsPath)
		}
		raw, _ := io.ReadAll(r.Body)
		if received != nil {
			if err := json.Unmarshal(raw, received); err != nil {
				t.Errorf("リクエストボディのパースに失敗: %v", err)
			}
		}
		if authHeader != nil {
			*authHeader = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// panicPoster はPostJSONでパニックするPoster。
type panicPoster struct{}

func (panicPoster) PostJSON(context.Context, string, any, any) error {
	panic("予期しない失敗")
}

// TestClient_Complete はCompleteを検証する。
func TestClient_Complete(t *testing.T) {
	t.Parallel()

	t.Run("システム指示とプロンプトの2メッセージを送り返答を返すこと", func(t *testing.T) {
		t.Parallel()

		var received chatRequest
		var auth string
		ts := fakeUpstream(t, http.StatusOK,
			`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`, &received, &auth)

		client := New(httpclient.New(ts.URL, httpclient.WithBearerToken("sk-test")), zap.NewNop())
		reply, err := client.Complete(context.Background(), "hi")
		if err != nil {
			t.Fatalf("Complete()でエラーが発生: %v", err)
		}
		if reply != "hello" {
			t.Errorf("reply = %q, want %q", reply, "hello")
		}

		if received.Model != "gpt-3.5-turbo" {
			t.Errorf("model = %q, want %q", received.Model, "gpt-3.5-turbo")
		}
		want := []Message{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: "hi"},
		}
		if len(received.Messages) != len(want) {
			t.Fatalf("メッセージ数 = %d, want %d", len(received.Messages), len(want))
		}
		for i := range want {
			if received.Messages[i] != want[i] {
				t.Errorf("messages[%d] = %+v, want %+v", i, received.Messages[i], want[i])
			}
		}
		if auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer sk-test")
		}
	})

	t.Run("上流がエラーステータスを返した場合にErrUpstreamFailureが返りログが出ること", func(t *testing.T) {
		t.Parallel()

		ts := fakeUpstream(t, http.StatusTooManyRequests, `{"error":{"message":"rate limit"}}`, nil, nil)
		core, logs := observer.New(zapcore.ErrorLevel)

		_, err := New(httpclient.New(ts.URL), zap.New(core)).Complete(context.Background(), "hi")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("err = %v, want %v", err, ErrUpstreamFailure)
		}
		var statusErr *httpclient.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
			t.Errorf("原因のStatusErrorが保持されていない: %v", err)
		}
		if logs.Len() != 1 {
			t.Errorf("ログ件数 = %d, want 1", logs.Len())
		}
	})

	t.Run("候補が空の場合にErrUpstreamFailureが返ること", func(t *testing.T) {
		t.Parallel()

		ts := fakeUpstream(t, http.StatusOK, `{"choices":[]}`, nil, nil)

		_, err := New(httpclient.New(ts.URL), nil).Complete(context.Background(), "hi")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Errorf("err = %v, want %v", err, ErrUpstreamFailure)
		}
	})

	t.Run("不正なJSONレスポンスでErrUpstreamFailureが返ること", func(t *testing.T) {
		t.Parallel()

		ts := fakeUpstream(t, http.StatusOK, `not json`, nil, nil)

		_, err := New(httpclient.New(ts.URL), nil).Complete(context.Background(), "hi")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Errorf("err = %v, want %v", err, ErrUpstreamFailure)
		}
	})

	t.Run("接続できない場合にErrUpstreamFailureが返ること", func(t *testing.T) {
		t.Parallel()

		_, err := New(httpclient.New("http://127.0.0.1:1"), nil).Complete(context.Background(), "hi")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Errorf("err = %v, want %v", err, ErrUpstreamFailure)
		}
	})

	t.Run("パニックもErrUpstreamFailureに変換されること", func(t *testing.T) {
		t.Parallel()

		_, err := New(panicPoster{}, nil).Complete(context.Background(), "hi")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Errorf("err = %v, want %v", err, ErrUpstreamFailure)
		}
	})
}
