// Package httpclient は外部APIとJSONでやり取りするHTTPクライアントを提供する。
//
// 補完APIへのリクエスト送信に使用する。Bearer認証ヘッダーの付与、
// タイムアウト、2xx以外のステータスのエラー化をまとめて扱う。
package httpclient
