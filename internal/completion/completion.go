// Package completion は外部の言語モデル補完APIへプロンプトを転送する。
//
// システム指示とユーザーのプロンプトの2メッセージを固定モデルに送り、
// 最初の候補の本文を返す。上流で起きた失敗は原因を問わず
// ErrUpstreamFailure にまとめる。
package completion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	// Model は補完に使うモデル。
	Model = "gpt-3.5-turbo"
	// SystemPrompt は全リクエストの先頭に置くシステム指示。
	SystemPrompt = "You are a helpful assistant."
	// chatCompletionsPath はOpenAI互換APIのチャット補完エンドポイント。
	chatCompletionsPath = "/v1/chat/completions"
)

// ErrUpstreamFailure は補完APIの呼び出しが失敗したことを表す。
var ErrUpstreamFailure = errors.New("upstream completion failed")

// Message はチャットの1メッセージ。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest はチャット補完APIのリクエストボディ。
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// chatResponse はチャット補完APIのレスポンスのうち使用する部分。
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Poster はJSONをPOSTしてレスポンスをデコードする。
// *httpclient.Client がこれを満たす。
type Poster interface {
	PostJSON(ctx context.Context, path string, body any, result any) error
}

// Client は補完APIのクライアント。
type Client struct {
	api    Poster
	logger *zap.Logger
}

// New は新しいClientを生成する。
func New(api Poster, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// Complete はプロンプトを補完APIに送り、返答のテキストを返す。
func (c *Client) Complete(ctx context.Context, prompt string) (reply string, err error) {
	defer func() {
		// 上流のレスポンス処理中のパニックもErrUpstreamFailureとして扱う
		if r := recover(); r != nil {
			reply, err = "", c.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	req := chatRequest{
		Model: Model,
		Messages: []Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	var resp chatResponse
	if err := c.api.PostJSON(ctx, chatCompletionsPath, req, &resp); err != nil {
		return "", c.fail(err)
	}
	if len(resp.Choices) == 0 {
		return "", c.fail(errors.New("レスポンスに候補が含まれていない"))
	}
	return resp.Choices[0].Message.Content, nil
}

// fail は原因をログに残し、ErrUpstreamFailureでラップして返す。
func (c *Client) fail(cause error) error {
	c.logger.Error("補完APIの呼び出しに失敗", zap.Error(cause))
	return fmt.Errorf("%w: %w", ErrUpstreamFailure, cause)
}
