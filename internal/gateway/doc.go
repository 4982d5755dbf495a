// Package gateway はチャット中継ゲートウェイのHTTPサーバーを提供する。
//
// サインアップ、ログイン（セッショントークン発行）、トークンで保護された
// /chat を公開する。/chat はプロンプトを外部の補完APIへ転送し、
// 返答をそのままクライアントに返す。
package gateway
